package instance

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

// IsPortAvailable checks if a TCP port is available for binding.
func IsPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// FindAvailablePort finds the next available port starting from startPort,
// returning 0 if none is free within maxAttempts.
func FindAvailablePort(startPort int) int {
	const maxAttempts = 20
	for i := 0; i < maxAttempts; i++ {
		if port := startPort + i; IsPortAvailable(port) {
			return port
		}
	}
	return 0
}

// HealthCheck performs an HTTP GET against the substrate's health probe.
func HealthCheck(port int) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/healthz", port))
	if err != nil {
		return fmt.Errorf("instance: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("instance: health check returned status %d", resp.StatusCode)
	}
	return nil
}

// SendShutdownRequest asks a running instance to shut down gracefully.
func SendShutdownRequest(port int) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://localhost:%d/shutdown", port), "application/json", nil)
	if err != nil {
		return fmt.Errorf("instance: shutdown request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("instance: shutdown request returned status %d", resp.StatusCode)
	}
	return nil
}

// WaitForPortToBeAvailable polls port until it frees up or timeout elapses.
func WaitForPortToBeAvailable(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if IsPortAvailable(port) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
