package memory

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const memoryTracerName = "recall.memory"

const (
	spanMemoryWrite  = "memory.write"
	spanMemorySearch = "memory.search"
	spanPayloadBuild = "memory.payload.build"
	spanMemoryReplay = "memory.replay"
)

func memoryTracer() trace.Tracer {
	return otel.Tracer(memoryTracerName)
}
