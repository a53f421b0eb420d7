package hostapp

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// travelFormat is the 3-line format read by launchers:
	// Line 1: role ("host" or "client")
	// Line 2: session name
	// Line 3: "TRAVEL::" prefix followed by the connect address
	travelFormat = "%s\n%s\nTRAVEL::%s\n"

	// failureFormat replaces the travel lines when the handshake failed.
	failureFormat = "FAILED::%s\n"
)

// Roles written to the travel file.
const (
	RoleHost   = "host"
	RoleClient = "client"
)

// WriteTravelFile writes the outcome of a successful handshake:
//
//	<role>
//	<session name>
//	TRAVEL::<address>
//
// The file is replaced atomically with 0600 permissions, so a launcher
// polling for it never sees a partial write.
func WriteTravelFile(filePath, role, sessionName, address string) error {
	if filePath == "" {
		return fmt.Errorf("travel file path is empty")
	}

	if role != RoleHost && role != RoleClient {
		return fmt.Errorf("unknown role %q", role)
	}

	if sessionName == "" {
		return fmt.Errorf("session name is empty")
	}

	if address == "" {
		return fmt.Errorf("connect address is empty")
	}

	if strings.ContainsAny(sessionName+address, "\r\n") {
		return fmt.Errorf("travel fields must be single-line")
	}

	content := fmt.Sprintf(travelFormat, role, sessionName, address)
	if err := writeAtomic(filePath, []byte(content)); err != nil {
		return fmt.Errorf("failed to write travel file: %w", err)
	}

	slog.Debug("wrote travel file", "path", filePath, "role", role)
	return nil
}

// WriteTravelFailure records a failed handshake. Line breaks in reason are
// flattened so the file stays a single line.
func WriteTravelFailure(filePath, reason string) error {
	if filePath == "" {
		return fmt.Errorf("travel file path is empty")
	}

	if reason == "" {
		reason = "handshake failed"
	}
	reason = strings.NewReplacer("\r", " ", "\n", " ").Replace(reason)

	if err := writeAtomic(filePath, []byte(fmt.Sprintf(failureFormat, reason))); err != nil {
		return fmt.Errorf("failed to write travel file (failure): %w", err)
	}

	slog.Debug("wrote travel file (failure)", "path", filePath, "reason", reason)
	return nil
}

func writeAtomic(filePath string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".travel-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, filePath); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
