// Command grallocd is the allocator service (A) process: it owns the
// shared host memory arena, the host-channel connection, and an
// in-process mapper it uses to track every buffer it has handed out, and
// answers allocator/mapper RPCs over a Unix-domain socket in place of
// the Android service-manager registration spec.md describes (spec.md
// §4.1, §9 supplemented features).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/snvd-io/device-generic-goldfish/allocator"
	"github.com/snvd-io/device-generic-goldfish/format"
	"github.com/snvd-io/device-generic-goldfish/hostchannel"
	"github.com/snvd-io/device-generic-goldfish/hostmem"
	"github.com/snvd-io/device-generic-goldfish/mapper"
	"github.com/snvd-io/device-generic-goldfish/pipe"
	"github.com/snvd-io/device-generic-goldfish/rpc"
)

func main() {
	sockPath := flag.String("socket", rpc.DefaultSocketPath(), "Unix socket path to listen on")
	simRefcounts := flag.Bool("sim-refcounts", true, "use an in-memory refcount dialer instead of "+pipe.DevicePath)
	flag.Parse()

	if err := run(*sockPath, *simRefcounts); err != nil {
		fmt.Fprintf(os.Stderr, "grallocd: %v\n", err)
		os.Exit(1)
	}
}

func run(sockPath string, simRefcounts bool) error {
	pool, err := hostmem.NewPool(0)
	if err != nil {
		return fmt.Errorf("hostmem.NewPool: %w", err)
	}
	defer pool.Close()

	conn := hostchannel.NewConnection(hostchannel.NewSimulatedEncoder(hostchannel.Features{
		HasReadColorBufferDMA: true,
	}))
	defer conn.Close()

	var dialer pipe.Dialer = pipe.NewSimDialer()
	if !simRefcounts {
		dialer = pipe.NewDeviceDialer()
	}

	d := &daemon{
		alloc: allocator.New(pool, conn, dialer),
		mp:    mapper.New(conn),
		bufs:  make(map[uint64]*mapper.Buffer),
	}

	srv, err := rpc.Listen(sockPath, d.dispatch)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		srv.Close()
	}()

	fmt.Printf("grallocd: listening on %s\n", sockPath)
	srv.Serve()
	return nil
}

// daemon holds the single process-wide Allocator and Mapper this service
// exposes over RPC, plus the bufferID -> imported-Buffer table that lets
// a later "free" or "dump" RPC refer back to an earlier "allocate".
type daemon struct {
	mu    sync.Mutex
	alloc *allocator.Allocator
	mp    *mapper.Mapper
	bufs  map[uint64]*mapper.Buffer
	nextID uint64
}

type allocateArgs struct {
	Width        int32  `json:"width"`
	Height       int32  `json:"height"`
	LayerCount   int32  `json:"layerCount"`
	Format       int32  `json:"format"`
	Usage        uint64 `json:"usage"`
	ReservedSize int64  `json:"reservedSize"`
	Name         string `json:"name"`
	Count        int32  `json:"count"`
}

type allocateResult struct {
	BufferIDs []uint64 `json:"bufferIds"`
	Stride    int32    `json:"stride"`
}

type isSupportedArgs struct {
	Width      int32  `json:"width"`
	Height     int32  `json:"height"`
	LayerCount int32  `json:"layerCount"`
	Format     int32  `json:"format"`
	Usage      uint64 `json:"usage"`
}

type freeArgs struct {
	BufferID uint64 `json:"bufferId"`
}

func (d *daemon) dispatch(req rpc.Request) (any, error) {
	switch req.Cmd {
	case "librarySuffix":
		return map[string]string{"suffix": d.alloc.GetLibrarySuffix()}, nil

	case "isSupported":
		var a isSupportedArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		ok := d.alloc.IsSupported(allocator.Descriptor{
			Width: a.Width, Height: a.Height, LayerCount: a.LayerCount,
			Format: format.PixelFormat(a.Format), Usage: format.Usage(a.Usage),
		})
		return map[string]bool{"supported": ok}, nil

	case "allocate":
		var a allocateArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return d.allocate(a)

	case "free":
		var a freeArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return nil, d.free(a.BufferID)

	case "dump":
		text, err := d.mp.DumpAllBuffers()
		if err != nil {
			return nil, err
		}
		return map[string]string{"text": text}, nil

	default:
		return nil, fmt.Errorf("unknown command %q", req.Cmd)
	}
}

func (d *daemon) allocate(a allocateArgs) (allocateResult, error) {
	count := a.Count
	if count <= 0 {
		count = 1
	}

	stride, handles, err := d.alloc.Allocate(allocator.Descriptor{
		Width: a.Width, Height: a.Height, LayerCount: a.LayerCount,
		Format: format.PixelFormat(a.Format), Usage: format.Usage(a.Usage),
		ReservedSize: a.ReservedSize, Name: a.Name,
	}, count)
	if err != nil {
		return allocateResult{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]uint64, 0, len(handles))
	for _, h := range handles {
		b, err := d.mp.ImportBuffer(h)
		if err != nil {
			return allocateResult{}, fmt.Errorf("import newly allocated buffer: %w", err)
		}
		d.nextID++
		id := d.nextID
		d.bufs[id] = b
		ids = append(ids, id)
	}

	return allocateResult{BufferIDs: ids, Stride: stride}, nil
}

func (d *daemon) free(id uint64) error {
	d.mu.Lock()
	b, ok := d.bufs[id]
	if ok {
		delete(d.bufs, id)
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown bufferId %d", id)
	}
	return d.mp.FreeBuffer(b)
}
