package rcmtest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/syslink/ipc/messageq"
	"github.com/ValentinKolb/syslink/rcm/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	Logger = logger.GetLogger("rcm")
)

// Fxn is a function served by the Server. It works on the data area of the
// message in place, the result is returned to the client in the packet header.
// A returned error is reported as common.StatusMsgFxnErr.
type Fxn func(data []byte) (int32, error)

// ServerOptions control how the Server processes messages
type ServerOptions struct {
	// Workers is the number of goroutines reading the server queue (at least 1)
	Workers int
	// MaxDelay delays every reply by a random duration up to MaxDelay,
	// so replies leave the server in a different order than the requests arrived
	MaxDelay time.Duration
}

// Server is a minimal function server for tests and demos. It answers exec,
// dpc, cmd, symbol lookups and job requests on a named queue.
type Server struct {
	name  string
	mq    messageq.IMessageQ
	queue messageq.QueueID
	opts  ServerOptions

	symbols *xsync.MapOf[string, uint32]
	fxns    *xsync.MapOf[uint32, Fxn]
	nextFxn atomic.Uint32
	jobs    *xsync.MapOf[uint16, struct{}]
	nextJob atomic.Uint32
	pools   *xsync.MapOf[uint16, struct{}]

	handled atomic.Uint64
	wg      sync.WaitGroup
}

// NewServer creates the server queue name on mq
func NewServer(name string, mq messageq.IMessageQ, opts ServerOptions) (*Server, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	queue, err := mq.Create(name)
	if err != nil {
		return nil, err
	}
	s := &Server{
		name:    name,
		mq:      mq,
		queue:   queue,
		opts:    opts,
		symbols: xsync.NewMapOf[string, uint32](),
		fxns:    xsync.NewMapOf[uint32, Fxn](),
		jobs:    xsync.NewMapOf[uint16, struct{}](),
		pools:   xsync.NewMapOf[uint16, struct{}](),
	}
	s.pools.Store(common.DefaultPoolID, struct{}{})
	return s, nil
}

// Register adds fxn under name and returns its function index
func (s *Server) Register(name string, fxn Fxn) uint32 {
	idx := s.nextFxn.Add(1) - 1
	s.fxns.Store(idx, fxn)
	s.symbols.Store(name, idx)
	return idx
}

// RegisterBuiltins registers the functions fxnDouble, fxnAdd and fxnFail
func (s *Server) RegisterBuiltins() {
	s.Register("fxnDouble", FxnDouble)
	s.Register("fxnAdd", FxnAdd)
	s.Register("fxnFail", FxnFail)
}

// AddPool makes the server accept messages for pool id
func (s *Server) AddPool(id uint16) {
	s.pools.Store(id, struct{}{})
}

// Queue returns the id of the server queue
func (s *Server) Queue() messageq.QueueID {
	return s.queue
}

// Handled returns the number of messages processed so far
func (s *Server) Handled() uint64 {
	return s.handled.Load()
}

// Start starts the workers
func (s *Server) Start() {
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.serve()
	}
	Logger.Infof("server %s started with %d workers", s.name, s.opts.Workers)
}

// Stop deletes the server queue and waits for the workers to exit
func (s *Server) Stop() error {
	err := s.mq.Delete(s.queue)
	s.wg.Wait()
	Logger.Infof("server %s stopped after %d messages", s.name, s.handled.Load())
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		msg, err := s.mq.Get(s.queue, messageq.WaitForever)
		if errors.Is(err, messageq.ErrDeleted) || errors.Is(err, messageq.ErrNotFound) {
			return
		}
		if err != nil {
			Logger.Errorf("server %s: receive: %v", s.name, err)
			return
		}
		if s.opts.MaxDelay > 0 {
			time.Sleep(time.Duration(rand.Int63n(int64(s.opts.MaxDelay))))
		}
		s.handle(msg)
		s.handled.Add(1)
	}
}

// handle processes one message and sends the reply
func (s *Server) handle(msg *messageq.Msg) {
	p := common.Packet(msg.Payload)
	if err := p.Valid(); err != nil {
		Logger.Warningf("server %s: dropping message: %v", s.name, err)
		_ = s.mq.Free(msg)
		return
	}

	kind := p.Descriptor().Kind
	var status common.ServerStatus
	switch kind {
	case common.KindExec, common.KindDpc, common.KindCmd:
		status = s.exec(p)
	case common.KindSymbolIndex:
		status = s.symbolIndex(p)
	case common.KindJobAcquire:
		status = s.acquireJob(p)
	case common.KindJobRelease:
		status = s.releaseJob(p)
	default:
		status = common.StatusInvalidMsgType
	}
	p.SetStatus(status)

	// commands are only answered on failure
	if kind == common.KindCmd && status == common.StatusSuccess {
		_ = s.mq.Free(msg)
		return
	}
	if err := s.mq.Put(msg.ReplyID, msg); err != nil {
		Logger.Warningf("server %s: reply to %s: %v", s.name, msg.ReplyID, err)
		_ = s.mq.Free(msg)
	}
}

func (s *Server) exec(p common.Packet) common.ServerStatus {
	if _, ok := s.pools.Load(p.PoolID()); !ok {
		return common.StatusPoolNotFound
	}
	if job := p.JobID(); job != common.DiscreteJobID {
		if _, ok := s.jobs.Load(job); !ok {
			return common.StatusJobNotFound
		}
	}
	fxn, ok := s.fxns.Load(p.FxnIdx())
	if !ok {
		return common.StatusInvalidFxn
	}
	result, err := fxn(p.Data())
	p.SetResult(result)
	if err != nil {
		return common.StatusMsgFxnErr
	}
	return common.StatusSuccess
}

func (s *Server) symbolIndex(p common.Packet) common.ServerStatus {
	data := p.Data()
	name := data
	if i := bytes.IndexByte(data, 0); i >= 0 {
		name = data[:i]
	}
	idx, ok := s.symbols.Load(string(name))
	if !ok || len(data) < 4 {
		return common.StatusSymbolNotFound
	}
	binary.LittleEndian.PutUint32(data[0:4], idx)
	return common.StatusSuccess
}

func (s *Server) acquireJob(p common.Packet) common.ServerStatus {
	data := p.Data()
	if len(data) < 2 {
		return common.StatusError
	}
	var job uint16
	for job == common.DiscreteJobID {
		job = uint16(s.nextJob.Add(1))
	}
	s.jobs.Store(job, struct{}{})
	binary.LittleEndian.PutUint16(data[0:2], job)
	return common.StatusSuccess
}

func (s *Server) releaseJob(p common.Packet) common.ServerStatus {
	data := p.Data()
	if len(data) < 2 {
		return common.StatusError
	}
	if _, ok := s.jobs.LoadAndDelete(binary.LittleEndian.Uint16(data[0:2])); !ok {
		return common.StatusJobNotFound
	}
	return common.StatusSuccess
}

// --------------------------------------------------------------------------
// Builtin functions
// --------------------------------------------------------------------------

// FxnDouble doubles the uint32 in data[0:4]
func FxnDouble(data []byte) (int32, error) {
	if len(data) < 4 {
		return -1, fmt.Errorf("fxnDouble: need 4 bytes, got %d", len(data))
	}
	v := binary.LittleEndian.Uint32(data[0:4]) * 2
	binary.LittleEndian.PutUint32(data[0:4], v)
	return int32(v), nil
}

// FxnAdd returns the sum of the uint32 values in data
func FxnAdd(data []byte) (int32, error) {
	var sum uint32
	for i := 0; i+4 <= len(data); i += 4 {
		sum += binary.LittleEndian.Uint32(data[i : i+4])
	}
	return int32(sum), nil
}

// FxnFail always fails
func FxnFail([]byte) (int32, error) {
	return -1, errors.New("fxnFail")
}
