package main

import (
	"context"
	"strings"
	"time"

	"mercato/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

type rateLimiter interface {
	Wait(ctx context.Context) error
}

type rateLimitedServerStream struct {
	grpc.ServerStream
	limiter rateLimiter
	metrics *observability.Metrics
}

func (s *rateLimitedServerStream) RecvMsg(m any) error {
	if err := waitLimiter(s.Context(), s.limiter, s.metrics); err != nil {
		return err
	}
	return s.ServerStream.RecvMsg(m)
}

func waitLimiter(ctx context.Context, limiter rateLimiter, metrics *observability.Metrics) error {
	if limiter == nil {
		return nil
	}
	start := time.Now()
	err := limiter.Wait(ctx)
	metrics.AddRateLimitWait(time.Since(start))
	return err
}

func rateLimitUnaryInterceptor(limiter rateLimiter, metrics *observability.Metrics, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		span := &observability.CallSpan{}
		start := time.Now()
		if shouldTrackMethod(info.FullMethod) {
			span = metrics.Start(info.FullMethod)
		}
		if err := waitLimiter(ctx, limiter, metrics); err != nil {
			span.End(err)
			return nil, err
		}
		resp, err := handler(ctx, req)
		span.End(err)
		if err != nil && shouldTrackMethod(info.FullMethod) {
			logger.Warn().Err(err).Str("method", info.FullMethod).Dur("latency", time.Since(start)).Msg("grpc unary error")
		}
		return resp, err
	}
}

func rateLimitStreamInterceptor(limiter rateLimiter, metrics *observability.Metrics, logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		span := &observability.CallSpan{}
		start := time.Now()
		if shouldTrackMethod(info.FullMethod) {
			span = metrics.Start(info.FullMethod)
		}
		if limiter != nil {
			stream = &rateLimitedServerStream{
				ServerStream: stream,
				limiter:      limiter,
				metrics:      metrics,
			}
		}
		err := handler(srv, stream)
		span.End(err)
		if err != nil && shouldTrackMethod(info.FullMethod) {
			logger.Warn().Err(err).Str("method", info.FullMethod).Dur("latency", time.Since(start)).Msg("grpc stream error")
		}
		return err
	}
}

func shouldTrackMethod(method string) bool {
	return method != "" && !strings.HasPrefix(method, "/grpc.reflection.")
}
