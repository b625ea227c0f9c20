// Package hookrpc exposes the navigation hook over gRPC for native bridges.
//
// The service has one unary method whose request and response are
// google.protobuf.Struct values, so no generated code is needed:
//
//	hallpass.v1.NavigationHook/NavigationCompleted
//	  in:  {tab_id: number, url: string, status: string}
//	  out: {action: string, redirect_url: string, rule: string, reason: string}
package hookrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/hallpass/internal/gatekeeper"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "hallpass.v1.NavigationHook"

// NavigationCompletedMethod is the full method path.
const NavigationCompletedMethod = "/" + ServiceName + "/NavigationCompleted"

// NavigationHookServer is the server API for the NavigationHook service.
type NavigationHookServer interface {
	NavigationCompleted(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterNavigationHookServer registers srv with s.
func RegisterNavigationHookServer(s grpc.ServiceRegistrar, srv NavigationHookServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NavigationHookServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "NavigationCompleted", Handler: navigationCompletedHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hallpass/v1/hook.proto",
}

func navigationCompletedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NavigationHookServer).NavigationCompleted(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: NavigationCompletedMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NavigationHookServer).NavigationCompleted(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// EventToStruct encodes a navigation event.
func EventToStruct(ev gatekeeper.NavigationEvent) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"tab_id": structpb.NewNumberValue(float64(ev.TabID)),
		"url":    structpb.NewStringValue(ev.URL),
		"status": structpb.NewStringValue(ev.Status),
	}}
}

// StructToEvent decodes a navigation event. Absent fields are zero; fields
// of the wrong kind are an InvalidArgument error.
func StructToEvent(s *structpb.Struct) (gatekeeper.NavigationEvent, error) {
	var ev gatekeeper.NavigationEvent
	fields := s.GetFields()

	if v, ok := fields["tab_id"]; ok {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return ev, status.Error(codes.InvalidArgument, "tab_id must be a number")
		}
		ev.TabID = int(n.NumberValue)
	}
	var err error
	if ev.URL, err = stringField(fields, "url"); err != nil {
		return ev, err
	}
	if ev.Status, err = stringField(fields, "status"); err != nil {
		return ev, err
	}
	return ev, nil
}

// DecisionToStruct encodes a gate decision.
func DecisionToStruct(d gatekeeper.Decision) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"action":       structpb.NewStringValue(string(d.Action)),
		"redirect_url": structpb.NewStringValue(d.RedirectURL),
		"rule":         structpb.NewStringValue(d.Rule),
		"reason":       structpb.NewStringValue(d.Reason),
	}}
}

// StructToDecision decodes a gate decision.
func StructToDecision(s *structpb.Struct) (gatekeeper.Decision, error) {
	fields := s.GetFields()
	var d gatekeeper.Decision
	action, err := stringField(fields, "action")
	if err != nil {
		return d, err
	}
	d.Action = gatekeeper.Action(action)
	if d.RedirectURL, err = stringField(fields, "redirect_url"); err != nil {
		return d, err
	}
	if d.Rule, err = stringField(fields, "rule"); err != nil {
		return d, err
	}
	if d.Reason, err = stringField(fields, "reason"); err != nil {
		return d, err
	}
	return d, nil
}

func stringField(fields map[string]*structpb.Value, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", status.Error(codes.InvalidArgument, fmt.Sprintf("%s must be a string", name))
	}
	return s.StringValue, nil
}
