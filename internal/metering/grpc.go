package metering

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// MeteringMethod — полное имя метода сервиса метрик.
const MeteringMethod = "/MeteringService/Grpc"

// serviceConfig — политика повторов канала: 4 попытки, 0.1s..1s, множитель 2,
// повтор только на UNAVAILABLE.
const serviceConfig = `{
  "loadBalancingConfig": [{"pick_first": {}}],
  "methodConfig": [{
    "name": [{"service": "MeteringService", "method": "Grpc"}],
    "waitForReady": true,
    "retryPolicy": {
      "maxAttempts": 4,
      "initialBackoff": "0.1s",
      "maxBackoff": "1s",
      "backoffMultiplier": 2,
      "retryableStatusCodes": ["UNAVAILABLE"]
    }
  }]
}`

// GRPCSink отправляет записи в MeteringService по gRPC.
type GRPCSink struct {
	conn *grpc.ClientConn
}

// NewGRPCSink открывает канал к host:port. Соединение ленивое.
func NewGRPCSink(host string, port int) (*GRPCSink, error) {
	target := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultServiceConfig(serviceConfig),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", target, err)
	}
	return &GRPCSink{conn: conn}, nil
}

// Send отправляет запись и возвращает ответ сервиса.
func (s *GRPCSink) Send(ctx context.Context, record *APIMetering) (*structpb.Struct, error) {
	req, err := toStruct(record)
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, MeteringMethod, req, resp); err != nil {
		return nil, fmt.Errorf("grpc metering: %w", err)
	}
	return resp, nil
}

// Close закрывает канал.
func (s *GRPCSink) Close() error {
	return s.conn.Close()
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
