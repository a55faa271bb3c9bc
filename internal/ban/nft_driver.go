// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ban

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/nftables"
)

// NFTDriver talks to nftables directly over netlink, adding and
// removing elements from a named set instead of shelling out to the
// nft binary — the pack's netlink-native alternative to the CLI-exec
// IPSetDriver, giving the two ban drivers genuinely different
// transports as the driver-abstraction design implies.
type NFTDriver struct {
	Table string // nftables table name, e.g. "filter"
	newConn func() (*nftables.Conn, error)
}

// NewNFTDriver returns a driver that opens a fresh netlink connection
// per operation, matching nftables.Conn's documented non-reentrant
// usage.
func NewNFTDriver(table string) *NFTDriver {
	return &NFTDriver{
		Table:   table,
		newConn: func() (*nftables.Conn, error) { return &nftables.Conn{}, nil },
	}
}

func (d *NFTDriver) setElement(set, ip string, seconds int, add bool) error {
	conn, err := d.newConn()
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("nft driver: invalid IP %q: %w", ip, err)
	}
	family := nftables.TableFamilyIPv4
	if addr.Is6() {
		family = nftables.TableFamilyIPv6
	}
	tbl := &nftables.Table{Name: d.Table, Family: family}
	nftSet := &nftables.Set{Table: tbl, Name: set}

	el := nftables.SetElement{Key: addrBytes(addr)}
	if add && seconds > 0 {
		el.Timeout = time.Duration(seconds) * time.Second
	}

	if add {
		if err := conn.SetAddElements(nftSet, []nftables.SetElement{el}); err != nil {
			return fmt.Errorf("nft driver: add element %s {%s}: %w", set, ip, err)
		}
	} else {
		if err := conn.SetDeleteElements(nftSet, []nftables.SetElement{el}); err != nil {
			return fmt.Errorf("nft driver: delete element %s {%s}: %w", set, ip, err)
		}
	}
	return conn.Flush()
}

// SetBan issues "add element <set> {<ip>[ timeout <n>s]}".
func (d *NFTDriver) SetBan(set, ip string, seconds int) error {
	return d.setElement(set, ip, seconds, true)
}

// CancelBan issues "delete element <set> {<ip>}".
func (d *NFTDriver) CancelBan(set, ip string) error {
	return d.setElement(set, ip, 0, false)
}

func addrBytes(addr netip.Addr) []byte {
	if addr.Is4() {
		a := addr.As4()
		return a[:]
	}
	a := addr.As16()
	return a[:]
}
