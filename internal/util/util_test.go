package util

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLogFileName(t *testing.T) {
	day := time.Date(2024, 3, 9, 17, 0, 0, 0, time.UTC)
	if got := LogFileName(day); got != "gsemu_2024-03-09.log" {
		t.Fatalf("LogFileName = %s", got)
	}
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"gsemu_2024-01-03.log",
		"gsemu_2024-01-01.log",
		"gsemu_2024-01-02.log",
		"other.log",
		"gsemu_notes.txt",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	if removed := CleanOldLogs(dir, 2); removed != 1 {
		t.Fatalf("removed %d files, want 1", removed)
	}
	if FileExists(filepath.Join(dir, "gsemu_2024-01-01.log")) {
		t.Fatalf("oldest log kept")
	}
	for _, n := range []string{"gsemu_2024-01-02.log", "gsemu_2024-01-03.log", "other.log", "gsemu_notes.txt"} {
		if !FileExists(filepath.Join(dir, n)) {
			t.Errorf("%s removed", n)
		}
	}
}

func TestInitLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := InitLogger(LogConfig{Level: "debug", Directory: dir, MaxBackups: 5}); err != nil {
		t.Fatalf("InitLogger: %v", err)
	}
	if !FileExists(filepath.Join(dir, LogFileName(time.Now()))) {
		t.Fatalf("log file not created")
	}
}

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "api.crt")
	keyFile := filepath.Join(dir, "tls", "api.key")

	if err := EnsureSelfSignedCert(certFile, keyFile, "127.0.0.1", "gsemu.local"); err != nil {
		t.Fatalf("EnsureSelfSignedCert: %v", err)
	}
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
	if len(pair.Certificate) != 1 {
		t.Fatalf("certificate chain length %d", len(pair.Certificate))
	}

	before, _ := os.ReadFile(certFile)
	if err := EnsureSelfSignedCert(certFile, keyFile); err != nil {
		t.Fatalf("second call: %v", err)
	}
	after, _ := os.ReadFile(certFile)
	if string(before) != string(after) {
		t.Fatalf("existing certificate was replaced")
	}
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	if info.CPUCores < 1 || info.Architecture == "" {
		t.Fatalf("incomplete system info: %+v", info)
	}
}

func TestGetProcessUsage(t *testing.T) {
	usage := GetProcessUsage(time.Now().Add(-2 * time.Second))
	if usage.PID != int32(os.Getpid()) || usage.Goroutines < 1 || usage.UptimeSec < 2 {
		t.Fatalf("usage = %+v", usage)
	}
}
