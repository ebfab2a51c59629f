// Package carwriter serializes the DAG under a root as a CARv1 stream
package carwriter

import (
	"context"
	"fmt"
	"io"

	"github.com/ipfs/dirpin/pkg/blockwriter"
	"github.com/ipfs/dirpin/pkg/unixfsstore/traversal"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ipld/go-car"
	"github.com/ipld/go-car/util"
	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/linking"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"go.uber.org/multierr"
)

var log = logging.Logger("dirpin/carwriter")

// BufferSize is how many bytes of blocks may be queued ahead of a slow writer
const BufferSize = (1 << 20) * 16

// WriteCar writes a CAR with root as its only root, followed by every block reachable from
// root in traversal order, each exactly once. The DAG must be complete in lsys.
func WriteCar(ctx context.Context, w io.Writer, root cid.Cid, lsys *ipld.LinkSystem) (err error) {
	closure, err := traversal.Closure(ctx, root, lsys)
	if err != nil {
		return fmt.Errorf("walking DAG under %s: %w", root, err)
	}

	bw := blockwriter.NewBlockWriter(w, BufferSize, nil)
	defer func() {
		err = multierr.Append(err, bw.Close())
	}()

	header := car.CarHeader{
		Version: 1,
		Roots:   []cid.Cid{root},
	}
	if err := car.WriteHeader(&header, bw); err != nil {
		return fmt.Errorf("writing car header: %w", err)
	}
	for _, c := range closure {
		if err := writeBlock(ctx, bw, c, lsys); err != nil {
			return fmt.Errorf("writing block %s: %w", c, err)
		}
	}
	log.Debugw("wrote car", "root", root, "blocks", len(closure))
	return nil
}

type bytesReader interface {
	Bytes() []byte
}

func writeBlock(ctx context.Context, w io.Writer, c cid.Cid, lsys *ipld.LinkSystem) error {
	reader, err := lsys.StorageReadOpener(linking.LinkContext{
		Ctx: ctx,
	}, cidlink.Link{Cid: c})
	if err != nil {
		return err
	}
	var data []byte
	if br, ok := reader.(bytesReader); ok {
		data = br.Bytes()
	} else {
		data, err = io.ReadAll(reader)
		if err != nil {
			return err
		}
	}
	return util.LdWrite(w, c.Bytes(), data)
}
