/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package probe answers "is this PE reachable" over gRPC health checks.
// Each PE serves the standard health service on a unix socket; a peer asks
// with a bounded deadline and gets a yes or no.
package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/grpclog"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var logger = grpclog.Component("pgas")

// ServiceName is the health service name a PE reports under.
const ServiceName = "pgas.PE"

// SocketPath returns where PE pe of job serves its health endpoint.
func SocketPath(dir, job string, pe int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.sock", job, pe))
}

// Server is one PE's health endpoint.
type Server struct {
	path string
	gs   *grpc.Server
	hs   *health.Server
	done chan struct{}
}

// Serve starts PE pe's health endpoint under dir. The PE reports
// NOT_SERVING until SetServing(true).
func Serve(dir, job string, pe int) (*Server, error) {
	path := SocketPath(dir, job, pe)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("probe: removing stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("probe: listen on %s: %w", path, err)
	}

	s := &Server{
		path: path,
		gs:   grpc.NewServer(),
		hs:   health.NewServer(),
		done: make(chan struct{}),
	}
	s.hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.gs, s.hs)

	go func() {
		defer close(s.done)
		if err := s.gs.Serve(lis); err != nil {
			logger.Warningf("health endpoint of PE %d stopped: %v", pe, err)
		}
	}()
	return s, nil
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// SetServing updates the status peers observe.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus(ServiceName, st)
}

// Stop reports NOT_SERVING to watchers, stops the server and removes the
// socket.
func (s *Server) Stop() {
	s.hs.Shutdown()
	s.gs.Stop()
	<-s.done
	os.Remove(s.path)
}

// Check asks PE pe of job whether it is serving. It returns false if the
// PE does not answer SERVING before ctx expires.
func Check(ctx context.Context, dir, job string, pe int) bool {
	path := SocketPath(dir, job, pe)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	conn, err := grpc.NewClient("unix://"+path, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Warningf("probe of PE %d: %v", pe, err)
		return false
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		if logger.V(2) {
			logger.Infof("probe of PE %d failed: %v", pe, err)
		}
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}
