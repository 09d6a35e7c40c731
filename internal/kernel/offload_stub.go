// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux
// +build !linux

package kernel

import (
	"grimm.is/flowplane/internal/ctlplane"
	"grimm.is/flowplane/internal/errors"
)

// NFTOffloader is only available on Linux.
type NFTOffloader struct{}

func NewNFTOffloader(tableName string) (*NFTOffloader, error) {
	return nil, errors.New(errors.KindUnavailable, "nftables offload requires Linux")
}

func (o *NFTOffloader) CreateFlowtable(rec ctlplane.Record) error {
	return errors.New(errors.KindUnavailable, "nftables offload requires Linux")
}

func (o *NFTOffloader) DeleteFlowtable(rec ctlplane.Record) error {
	return errors.New(errors.KindUnavailable, "nftables offload requires Linux")
}

func (o *NFTOffloader) Close() error { return nil }
