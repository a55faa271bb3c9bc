// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ban

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// IPSetDriver shells out to the ipset binary, matching the original
// driver's literal CLI shape: "ipset -exist -quiet add|del <set> <ip>
// [timeout <seconds>]". Kept as a CLI-exec driver (rather than a
// netlink one, unlike NFTDriver) because no maintained Go ipset/netlink
// binding was available in the pack; see DESIGN.md.
type IPSetDriver struct {
	Path    string        // defaults to "/usr/bin/ipset"
	Timeout time.Duration // per-invocation exec timeout; 0 means none
	run     func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewIPSetDriver returns a driver invoking the named ipset binary
// ("/usr/bin/ipset" if path is empty).
func NewIPSetDriver(path string) *IPSetDriver {
	return &IPSetDriver{
		Path: path,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

func (d *IPSetDriver) path() string {
	if d.Path == "" {
		return "/usr/bin/ipset"
	}
	return d.Path
}

func (d *IPSetDriver) exec(args ...string) error {
	ctx := context.Background()
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	out, err := d.run(ctx, d.path(), args...)
	if err != nil {
		return fmt.Errorf("ipset driver: %s %v: %w: %s", d.path(), args, err, out)
	}
	return nil
}

// SetBan issues "ipset -exist -quiet add <set> <ip> [timeout <n>]".
func (d *IPSetDriver) SetBan(set, ip string, seconds int) error {
	args := []string{"-exist", "-quiet", "add", set, ip}
	if seconds > 0 {
		args = append(args, "timeout", strconv.Itoa(seconds))
	}
	return d.exec(args...)
}

// CancelBan issues "ipset -exist -quiet del <set> <ip>".
func (d *IPSetDriver) CancelBan(set, ip string) error {
	return d.exec("-exist", "-quiet", "del", set, ip)
}
