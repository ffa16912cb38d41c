// SPDX-License-Identifier: GPL-3.0-or-later

// Package sproc implements the process-level supervisor handshake spec.md
// §6 describes: a worker binds to whichever listening sockets a
// supervisor process handed it by fd number, acks readiness over a
// command fd, and quiesces on request. The supervisor process itself is
// out of scope (spec.md's explicit non-goal) — this package is only the
// worker side of the contract, plus github.com/cloudflare/tableflip as
// the concrete Upgrader performing the actual fd handoff between process
// generations (grounded on Ankit-Kulkarni-go-experiments/
// graceful_restarts/tbflip's Listen/Ready/Exit lifecycle).
package sproc

import (
	"flag"
	"strconv"
	"strings"
)

// Flags holds the inherited-fd numbers parsed from a worker's command
// line. A field holds -1 when its flag was not passed.
type Flags struct {
	HTTPFd    int
	HTTPSFd   int
	UDPFds    []int
	PrivateFd int
	CmdFd     int
}

// ParseFlags parses args (typically os.Args[1:]) into a [*Flags]. Flag
// parsing is the one ambient CLI concern this module reaches for the
// standard library directly: the pack's only CLI-flag dependency,
// cuemby-warren's spf13/cobra, is built for a multi-command tree and
// would be a poor fit for this single flat flag set (see DESIGN.md's
// stdlib-justification entry).
func ParseFlags(name string, args []string) (*Flags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	httpFd := fs.Int("http_fd", -1, "inherited plain-HTTP listening socket fd")
	httpsFd := fs.Int("https_fd", -1, "inherited HTTPS listening socket fd")
	udpFds := fs.String("udp_fds", "", "comma-separated inherited UDP socket fds")
	privateFd := fs.Int("private_fd", -1, "inherited private/admin listening socket fd")
	cmdFd := fs.Int("cmd_fd", -1, "bidirectional command fd")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f := &Flags{
		HTTPFd:    *httpFd,
		HTTPSFd:   *httpsFd,
		PrivateFd: *privateFd,
		CmdFd:     *cmdFd,
	}
	if *udpFds != "" {
		fds, err := parseIntList(*udpFds)
		if err != nil {
			return nil, err
		}
		f.UDPFds = fds
	}
	return f, nil
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
