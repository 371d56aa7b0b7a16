package workflow

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/structpb"
)

func attachMetadata(ctx context.Context, md map[string]string) context.Context {
	if len(md) == 0 {
		return ctx
	}
	pairs := make([]string, 0, len(md)*2)
	for k, v := range md {
		pairs = append(pairs, k, v)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// structFromJSON builds a google.protobuf.Struct-backed message when no
// descriptor is available, so untyped services (or fixtures exercising the
// adapter without a proto_set) still round-trip JSON payloads.
func structFromJSON(raw json.RawMessage) (proto.Message, error) {
	if len(raw) == 0 {
		return &structpb.Struct{}, nil
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("grpc message must be a JSON object when no proto_set is given: %w", err)
	}
	s, err := structpb.NewStruct(v)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GrpcAdapter dispatches unary, server-stream, client-stream, and bidi gRPC
// calls against a method resolved from a FileDescriptorSet (proto_set), per
// §4.4's four-mode contract. Connections are cached per target so repeated
// steps against the same service reuse one ClientConn.
type GrpcAdapter struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
	descs map[string]*descriptorCache
}

type descriptorCache struct {
	files map[string]protoreflect.FileDescriptor
}

func NewGrpcAdapter() *GrpcAdapter {
	return &GrpcAdapter{conns: map[string]*grpc.ClientConn{}, descs: map[string]*descriptorCache{}}
}

func (a *GrpcAdapter) Do(ctx context.Context, req *AdapterRequest, store *VariableStore) (*AdapterOutcome, error) {
	cfg := req.Step.Grpc
	if cfg == nil {
		return nil, newErrf(KindArgument, req.Step.Name, "grpc", "grpc step missing grpc config")
	}

	conn, err := a.connFor(cfg)
	if err != nil {
		return nil, newErr(KindAdapter, req.Step.Name, "grpc", err)
	}

	methodDesc, err := a.methodDescriptor(cfg)
	if err != nil {
		return nil, newErr(KindAdapter, req.Step.Name, "grpc", err)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = inferMode(methodDesc)
	}

	fullMethod := fmt.Sprintf("/%s/%s", cfg.Service, cfg.Method)
	md := mergeMetadata(req.Headers, cfg.Metadata)

	start := time.Now()
	var bodyJSON any
	switch mode {
	case "unary":
		bodyJSON, err = a.callUnary(ctx, conn, fullMethod, methodDesc, cfg.Message, md)
	case "server_stream":
		bodyJSON, err = a.callServerStream(ctx, conn, fullMethod, methodDesc, cfg.Message, md)
	case "client_stream":
		bodyJSON, err = a.callClientStream(ctx, conn, fullMethod, methodDesc, cfg.Messages, md)
	case "bidi":
		bodyJSON, err = a.callBidi(ctx, conn, fullMethod, methodDesc, cfg.Messages, md)
	default:
		return nil, newErrf(KindArgument, req.Step.Name, "grpc.mode", "unknown grpc mode %q", mode)
	}
	elapsed := time.Since(start)
	if err != nil {
		return nil, newErrf(KindAdapter, req.Step.Name, "grpc", "%v", err)
	}

	body, _ := json.Marshal(bodyJSON)
	statusCode := 0 // gRPC calls have no HTTP status; 0 reads as "OK" for assertion purposes when no status assertion is declared
	return &AdapterOutcome{StatusCode: statusCode, Body: body, Elapsed: elapsed, Headers: map[string]string{}}, nil
}

func (a *GrpcAdapter) connFor(cfg *GrpcConfig) (*grpc.ClientConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.conns[cfg.Target]; ok {
		return c, nil
	}
	var creds credentials.TransportCredentials
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(&tls.Config{})
	}
	conn, err := grpc.NewClient(cfg.Target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", cfg.Target, err)
	}
	a.conns[cfg.Target] = conn
	return conn, nil
}

// methodDescriptor resolves the request/response message descriptors for
// cfg.Service/cfg.Method from a FileDescriptorSet loaded from proto_set.
// With no proto_set it returns a nil descriptor, and the call falls back to
// an untyped JSON passthrough via google.protobuf.Struct; a method that is
// not found in a given proto_set is an error.
func (a *GrpcAdapter) methodDescriptor(cfg *GrpcConfig) (protoreflect.MethodDescriptor, error) {
	if cfg.ProtoSet == "" {
		return nil, nil
	}
	cache, err := a.loadDescriptorSet(cfg.ProtoSet)
	if err != nil {
		return nil, err
	}
	for _, fd := range cache.files {
		svc := fd.Services().ByName(protoreflect.Name(lastSegment(cfg.Service)))
		if svc == nil {
			continue
		}
		m := svc.Methods().ByName(protoreflect.Name(cfg.Method))
		if m != nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("method %s/%s not found in %s", cfg.Service, cfg.Method, cfg.ProtoSet)
}

func (a *GrpcAdapter) loadDescriptorSet(path string) (*descriptorCache, error) {
	if c, ok := a.descs[path]; ok {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading proto_set %q: %w", path, err)
	}
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing proto_set %q: %w", path, err)
	}
	files, err := protodesc.NewFiles(&set)
	if err != nil {
		return nil, fmt.Errorf("building descriptor pool from %q: %w", path, err)
	}
	cache := &descriptorCache{files: map[string]protoreflect.FileDescriptor{}}
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		cache.files[string(fd.Path())] = fd
		return true
	})
	a.descs[path] = cache
	return cache, nil
}

func inferMode(m protoreflect.MethodDescriptor) string {
	if m == nil {
		return "unary"
	}
	switch {
	case m.IsStreamingClient() && m.IsStreamingServer():
		return "bidi"
	case m.IsStreamingServer():
		return "server_stream"
	case m.IsStreamingClient():
		return "client_stream"
	default:
		return "unary"
	}
}

func (a *GrpcAdapter) newMessage(desc protoreflect.MessageDescriptor, raw json.RawMessage) (proto.Message, error) {
	if desc == nil {
		// No descriptor available: fall back to a bare JSON struct so the
		// call still round-trips for services that accept google.protobuf.Struct.
		return structFromJSON(raw)
	}
	msg := dynamicpb.NewMessage(desc)
	if len(raw) > 0 {
		if err := protojson.Unmarshal(raw, msg); err != nil {
			return nil, fmt.Errorf("decoding request message: %w", err)
		}
	}
	return msg, nil
}

func (a *GrpcAdapter) callUnary(ctx context.Context, conn *grpc.ClientConn, method string, m protoreflect.MethodDescriptor, raw json.RawMessage, md map[string]string) (any, error) {
	var in, out protoreflect.MessageDescriptor
	if m != nil {
		in, out = m.Input(), m.Output()
	}
	reqMsg, err := a.newMessage(in, raw)
	if err != nil {
		return nil, err
	}
	respMsg, err := a.newMessage(out, nil)
	if err != nil {
		return nil, err
	}
	ctx = attachMetadata(ctx, md)
	if err := conn.Invoke(ctx, method, reqMsg, respMsg); err != nil {
		return nil, err
	}
	return messageToJSON(respMsg)
}

func (a *GrpcAdapter) callServerStream(ctx context.Context, conn *grpc.ClientConn, method string, m protoreflect.MethodDescriptor, raw json.RawMessage, md map[string]string) (any, error) {
	var in, out protoreflect.MessageDescriptor
	if m != nil {
		in, out = m.Input(), m.Output()
	}
	reqMsg, err := a.newMessage(in, raw)
	if err != nil {
		return nil, err
	}
	ctx = attachMetadata(ctx, md)
	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, method)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(reqMsg); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	var results []any
	for {
		respMsg, err := a.newMessage(out, nil)
		if err != nil {
			return nil, err
		}
		if err := stream.RecvMsg(respMsg); err != nil {
			break
		}
		jv, err := messageToJSON(respMsg)
		if err != nil {
			return nil, err
		}
		results = append(results, jv)
	}
	return results, nil
}

func (a *GrpcAdapter) callClientStream(ctx context.Context, conn *grpc.ClientConn, method string, m protoreflect.MethodDescriptor, raws []json.RawMessage, md map[string]string) (any, error) {
	var in, out protoreflect.MessageDescriptor
	if m != nil {
		in, out = m.Input(), m.Output()
	}
	ctx = attachMetadata(ctx, md)
	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{ClientStreams: true}, method)
	if err != nil {
		return nil, err
	}
	for _, raw := range raws {
		reqMsg, err := a.newMessage(in, raw)
		if err != nil {
			return nil, err
		}
		if err := stream.SendMsg(reqMsg); err != nil {
			return nil, err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	respMsg, err := a.newMessage(out, nil)
	if err != nil {
		return nil, err
	}
	if err := stream.RecvMsg(respMsg); err != nil {
		return nil, err
	}
	return messageToJSON(respMsg)
}

func (a *GrpcAdapter) callBidi(ctx context.Context, conn *grpc.ClientConn, method string, m protoreflect.MethodDescriptor, raws []json.RawMessage, md map[string]string) (any, error) {
	var in, out protoreflect.MessageDescriptor
	if m != nil {
		in, out = m.Input(), m.Output()
	}
	ctx = attachMetadata(ctx, md)
	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{ClientStreams: true, ServerStreams: true}, method)
	if err != nil {
		return nil, err
	}
	for _, raw := range raws {
		reqMsg, err := a.newMessage(in, raw)
		if err != nil {
			return nil, err
		}
		if err := stream.SendMsg(reqMsg); err != nil {
			return nil, err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	var results []any
	for {
		respMsg, err := a.newMessage(out, nil)
		if err != nil {
			return nil, err
		}
		if err := stream.RecvMsg(respMsg); err != nil {
			break
		}
		jv, err := messageToJSON(respMsg)
		if err != nil {
			return nil, err
		}
		results = append(results, jv)
	}
	return results, nil
}

func messageToJSON(m proto.Message) (any, error) {
	data, err := protojson.Marshal(m)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func lastSegment(s string) string {
	idx := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

func mergeMetadata(headers map[string]string, grpcMeta map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+len(grpcMeta))
	for k, v := range headers {
		out[k] = v
	}
	for k, v := range grpcMeta {
		out[k] = v
	}
	return out
}
