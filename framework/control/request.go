package control

import (
	"fmt"
	"strings"
)

// Kind is the operation a front end asks the orchestrator to perform.
type Kind uint8

const (
	Start Kind = iota + 1
	Stop
	Snapshot
	Restore
	Terminate
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Snapshot:
		return "snapshot"
	case Restore:
		return "restore"
	case Terminate:
		return "terminate"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Request is a single control event. Snapshot names the archive to restore
// and is only set for Restore.
type Request struct {
	Kind     Kind
	Snapshot string
}

func (r Request) String() string {
	if r.Kind == Restore {
		return r.Kind.String() + " " + r.Snapshot
	}
	return r.Kind.String()
}

// ParseLine turns a command line typed by the operator into a request.
// Accepted forms: start, stop, snapshot, restore <name>, quit.
func ParseLine(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}, fmt.Errorf("empty command")
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]
	var req Request
	switch cmd {
	case "start", "s":
		req.Kind = Start
	case "stop", "x":
		req.Kind = Stop
	case "snapshot", "ss":
		req.Kind = Snapshot
	case "restore", "r":
		if len(args) != 1 {
			return Request{}, fmt.Errorf("usage: restore <snapshot>")
		}
		return Request{Kind: Restore, Snapshot: args[0]}, nil
	case "quit", "exit", "q":
		req.Kind = Terminate
	default:
		return Request{}, fmt.Errorf("unknown command %q", cmd)
	}

	if len(args) != 0 {
		return Request{}, fmt.Errorf("%s takes no arguments", req.Kind)
	}
	return req, nil
}
