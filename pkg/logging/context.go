package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     contextKey = "trace_id"
	ServiceNameKey contextKey = "service_name"
	UNIDKey        contextKey = "unid"
	PartitionKey   contextKey = "partition"
	OffsetKey      contextKey = "offset"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func WithUNID(ctx context.Context, unid string) context.Context {
	return context.WithValue(ctx, UNIDKey, unid)
}

// WithPosition tags ctx with a broker partition and offset.
func WithPosition(ctx context.Context, partition int, offset int64) context.Context {
	ctx = context.WithValue(ctx, PartitionKey, partition)
	return context.WithValue(ctx, OffsetKey, offset)
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetUNID(ctx context.Context) string {
	if unid, ok := ctx.Value(UNIDKey).(string); ok {
		return unid
	}
	return ""
}

func GetPosition(ctx context.Context) (int, int64, bool) {
	partition, ok := ctx.Value(PartitionKey).(int)
	if !ok {
		return 0, 0, false
	}
	offset, ok := ctx.Value(OffsetKey).(int64)
	if !ok {
		return 0, 0, false
	}
	return partition, offset, true
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, "trace_id", traceID)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	if unid := GetUNID(ctx); unid != "" {
		fields = append(fields, "unid", unid)
	}

	if partition, offset, ok := GetPosition(ctx); ok {
		fields = append(fields, "partition", partition, "offset", offset)
	}

	return fields
}
