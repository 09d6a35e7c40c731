// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package kernel

import (
	"fmt"
	"sync"

	"github.com/google/nftables"

	"grimm.is/flowplane/internal/ctlplane"
	"grimm.is/flowplane/internal/errors"
)

// NFTOffloader programs flowtable objects into one nftables inet table.
// Control-plane flow tables from all namespaces land in that single table,
// so kernel object names are prefixed with namespace and table.
type NFTOffloader struct {
	tableName string

	mu    sync.Mutex
	conn  *nftables.Conn
	table *nftables.Table
}

// NewNFTOffloader opens a netlink connection and ensures the managed
// nftables table exists.
func NewNFTOffloader(tableName string) (*NFTOffloader, error) {
	if tableName == "" {
		tableName = "flowplane"
	}
	conn, err := nftables.New()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to open nftables connection")
	}
	table := conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyINet,
		Name:   tableName,
	})
	if err := conn.Flush(); err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "failed to create nftables table %s", tableName)
	}
	return &NFTOffloader{tableName: tableName, conn: conn, table: table}, nil
}

func kernelName(rec ctlplane.Record) string {
	return fmt.Sprintf("%s_%s_%s", rec.Namespace, rec.Table, rec.Name)
}

// CreateFlowtable mirrors a committed create into the kernel.
func (o *NFTOffloader) CreateFlowtable(rec ctlplane.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	prio := nftables.FlowtablePriority(rec.Priority)
	o.conn.AddFlowtable(&nftables.Flowtable{
		Table:    o.table,
		Name:     kernelName(rec),
		Hooknum:  nftables.FlowtableHookIngress,
		Priority: &prio,
		Devices:  rec.Devices,
	})
	if err := o.conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to program flowtable %s", kernelName(rec))
	}
	return nil
}

// DeleteFlowtable mirrors a committed delete into the kernel.
func (o *NFTOffloader) DeleteFlowtable(rec ctlplane.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conn.DelFlowtable(&nftables.Flowtable{
		Table: o.table,
		Name:  kernelName(rec),
	})
	if err := o.conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to remove flowtable %s", kernelName(rec))
	}
	return nil
}

// Close drops the managed table and its flowtables.
func (o *NFTOffloader) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conn.DelTable(o.table)
	if err := o.conn.Flush(); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to remove nftables table %s", o.tableName)
	}
	return nil
}
