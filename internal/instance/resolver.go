package instance

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// ConflictResolver handles conflicts when an instance is already running,
// adapted from the teacher's interactive/non-interactive split (the
// "connect via browser" option is dropped: the substrate exposes no
// browser dashboard).
type ConflictResolver struct {
	mgr         *Manager
	interactive bool
}

// NewConflictResolver constructs a resolver bound to mgr.
func NewConflictResolver(mgr *Manager, interactive bool) *ConflictResolver {
	return &ConflictResolver{mgr: mgr, interactive: interactive}
}

// Resolve handles the conflict resolution process. May exit the process
// (for the "exit" / non-interactive-default paths).
func (r *ConflictResolver) Resolve(info *Info) error {
	if !r.interactive {
		return r.handleNonInteractive(info)
	}
	return r.handleInteractive(info)
}

func (r *ConflictResolver) handleInteractive(info *Info) error {
	r.displayConflictInfo(info)
	reader := bufio.NewReader(os.Stdin)

	for {
		choice, err := r.promptUser(reader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			continue
		}
		switch choice {
		case 1:
			return r.stopExisting(info, false)
		case 2:
			return r.useDifferentPort(info)
		case 3:
			return r.stopExisting(info, true)
		case 4:
			fmt.Println("\nCanceling startup.")
			os.Exit(0)
		default:
			fmt.Println("Invalid choice. Please enter 1-4.")
		}
	}
}

func (r *ConflictResolver) handleNonInteractive(info *Info) error {
	strategy := os.Getenv("MEMSUBSTRATE_ON_CONFLICT")
	if strategy == "" {
		strategy = "exit"
	}

	fmt.Printf("Port %d is in use (PID %d). Conflict strategy: %s\n", info.Port, info.PID, strategy)

	switch strategy {
	case "exit":
		fmt.Fprintf(os.Stderr, "Another instance is running on port %d (PID %d)\n", info.Port, info.PID)
		fmt.Fprintf(os.Stderr, "Set MEMSUBSTRATE_ON_CONFLICT to 'kill' or 'port' to change behavior\n")
		os.Exit(1)
		return nil
	case "kill":
		return r.stopExisting(info, true)
	case "port":
		return r.useDifferentPort(info)
	default:
		return fmt.Errorf("instance: unknown conflict strategy %q", strategy)
	}
}

func (r *ConflictResolver) displayConflictInfo(info *Info) {
	fmt.Println()
	fmt.Println("Another memsubstrated instance is already running:")
	fmt.Printf("  PID:     %d\n", info.PID)
	fmt.Printf("  Port:    %d\n", info.Port)
	fmt.Printf("  Started: %s (%s ago)\n", info.StartedAt.Format("2006-01-02 15:04:05"), time.Since(info.StartedAt).Round(time.Second))
	status := "not responding"
	if info.IsResponding {
		status = "responding"
	}
	fmt.Printf("  Status:  %s\n\n", status)
	fmt.Println("  1. Stop existing instance and start new one")
	fmt.Println("  2. Start on a different port")
	fmt.Println("  3. Force kill existing instance")
	fmt.Println("  4. Exit")
	fmt.Println()
}

func (r *ConflictResolver) promptUser(reader *bufio.Reader) (int, error) {
	fmt.Print("Enter choice (1-4): ")
	input, err := reader.ReadString('\n')
	if err != nil {
		return 0, err
	}
	choice, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, fmt.Errorf("invalid input")
	}
	return choice, nil
}

func (r *ConflictResolver) stopExisting(info *Info, force bool) error {
	if !force && info.IsResponding {
		fmt.Println("\nSending graceful shutdown request...")
		if err := SendShutdownRequest(info.Port); err != nil {
			fmt.Printf("Graceful shutdown failed: %v\n", err)
			force = true
		} else {
			time.Sleep(3 * time.Second)
			running, _ := IsProcessRunning(info.PID)
			if !running {
				fmt.Println("Previous instance stopped successfully")
				r.mgr.RemovePIDFile()
				return nil
			}
			fmt.Println("Process still running after graceful shutdown request")
			force = true
		}
	}

	if force {
		fmt.Printf("Force killing process %d...\n", info.PID)
		if err := KillProcess(info.PID); err != nil {
			return fmt.Errorf("instance: kill process: %w", err)
		}
		time.Sleep(1 * time.Second)
		r.mgr.RemovePIDFile()
		fmt.Println("Previous instance terminated")
	}
	return nil
}

func (r *ConflictResolver) useDifferentPort(info *Info) error {
	newPort := FindAvailablePort(r.mgr.GetPort() + 1)
	if newPort == 0 {
		return fmt.Errorf("instance: could not find an available port")
	}
	fmt.Printf("\nStarting on port %d instead...\n", newPort)
	r.mgr.SetPort(newPort)
	return nil
}

// IsInteractive reports whether stdin is an attached terminal.
func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdin.Fd())
}
