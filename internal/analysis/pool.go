package analysis

import (
	"sync"
	"sync/atomic"

	"github.com/fspulse/fspulse/internal/events"
	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
	"github.com/fspulse/fspulse/internal/store"
	"github.com/fspulse/fspulse/internal/undolog"
	"github.com/fspulse/fspulse/internal/validate"
)

// Pool runs the Analyze phase (C5) for one scan: a producer issuing
// the candidate query in pages, and a fixed worker count consuming a
// bounded channel between them.
type Pool struct {
	DB       *store.DB
	Registry *validate.Registry
	Bcast    *events.Broadcaster

	Threads         int
	PageSize        int
	ChannelCapacity int
}

// Run drives every eligible candidate for scan to completion (or to a
// cancelled no-op state) and returns once the candidate query drains
// to zero or cancellation is observed.
func (p *Pool) Run(taskID int64, scan *model.Scan, cancelled *atomic.Bool) error {
	ch := make(chan Candidate, p.ChannelCapacity)
	prodErr := make(chan error, 1)

	// quit unblocks produce's pending channel send if every worker
	// exits early on a fatal error before the candidate query drains;
	// without it produce would leak, stuck sending into a channel
	// nobody reads from.
	quit := make(chan struct{})
	var quitOnce sync.Once
	stop := func() { quitOnce.Do(func() { close(quit) }) }

	var prodWg sync.WaitGroup
	prodWg.Add(1)
	go func() {
		defer prodWg.Done()
		p.produce(scan, cancelled, ch, prodErr, quit)
	}()

	var done, total int64
	var wg sync.WaitGroup
	workerErrs := make(chan error, p.Threads)

	for i := 0; i < p.Threads; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if err := p.worker(idx, taskID, scan, cancelled, ch, &done, &total); err != nil {
				select {
				case workerErrs <- err:
				default:
				}
				stop()
			}
		}(i)
	}

	wg.Wait()
	stop()
	prodWg.Wait()

	select {
	case err := <-prodErr:
		return err
	default:
	}
	select {
	case err := <-workerErrs:
		return err
	default:
	}
	if cancelled != nil && cancelled.Load() {
		return fserr.ErrInterrupted
	}
	return nil
}

// produce issues the candidate query in pages of ~PageSize rows,
// tracking the last returned item_id as a cursor, and pushes each
// candidate into ch. It stops and closes ch once a page returns fewer
// rows than requested (drained), cancellation fires, or quit closes.
func (p *Pool) produce(scan *model.Scan, cancelled *atomic.Bool, ch chan<- Candidate, errCh chan<- error, quit <-chan struct{}) {
	defer close(ch)

	cursor := int64(0)
	for {
		select {
		case <-quit:
			return
		default:
		}
		if cancelled != nil && cancelled.Load() {
			return
		}

		page, err := queryCandidates(p.DB, scan, cursor, p.PageSize)
		if err != nil {
			errCh <- err
			return
		}
		if len(page) == 0 {
			return
		}

		for _, c := range page {
			select {
			case ch <- c:
				cursor = c.ItemID
			case <-quit:
				return
			}
		}
		if len(page) < p.PageSize {
			return
		}
	}
}

// worker consumes candidates until ch closes. Once cancellation is
// observed it keeps draining the channel without doing further work,
// which is what lets the producer's final in-flight sends complete
// and the pool unwind without anyone blocking.
func (p *Pool) worker(idx int, taskID int64, scan *model.Scan, cancelled *atomic.Bool, ch <-chan Candidate, done, total *int64) error {
	for c := range ch {
		atomic.AddInt64(total, 1)

		if cancelled != nil && cancelled.Load() {
			continue
		}

		op := events.OpValidating
		if c.NeedsHash {
			op = events.OpHashing
		}
		p.Bcast.Publish(events.Event{Kind: events.WorkerState, TaskID: taskID, WorkerIndex: idx, WorkerOp: op, CurrentFile: c.Path})

		if err := p.processOne(scan, c, cancelled); err != nil {
			if fserr.Is(err, fserr.KindInterrupt) {
				continue
			}
			return err
		}

		n := atomic.AddInt64(done, 1)
		p.Bcast.Publish(events.Event{Kind: events.AnalysisProgress, TaskID: taskID, Done: n, Total: atomic.LoadInt64(total)})
	}

	p.Bcast.Publish(events.Event{Kind: events.WorkerState, TaskID: taskID, WorkerIndex: idx, WorkerOp: events.OpIdle})
	return nil
}

// processOne runs the hash/validate pipeline for one candidate and
// writes the result within a single transaction (§4.3 worker
// contract).
func (p *Pool) processOne(scan *model.Scan, c Candidate, cancelled *atomic.Bool) error {
	access := model.AccessOk
	newHash := c.StoredHash
	newVal := c.StoredVal
	newValError := c.StoredValError
	hashChanged := false
	valChanged := false

	if c.NeedsHash {
		h, err := hashFile(c.Path, cancelled)
		if err != nil {
			if err == fserr.ErrInterrupted {
				return fserr.ErrInterrupted
			}
			access = model.AccessReadError
			hashChanged = c.StoredHash != ""
			newHash = ""
		} else {
			newHash = h
			hashChanged = newHash != c.StoredHash
		}
	}

	if c.NeedsVal && access != model.AccessReadError {
		if cancelled != nil && cancelled.Load() {
			return fserr.ErrInterrupted
		}
		v := p.Registry.ForPath(c.Path)
		if v == nil {
			newVal = model.ValNoValidator
			newValError = ""
		} else {
			res := v.Validate(c.Path, cancelled)
			if res.State == model.ValUnknown && cancelled != nil && cancelled.Load() {
				return fserr.ErrInterrupted
			}
			newVal = res.State
			newValError = res.Error
		}
		valChanged = newVal != c.StoredVal || newValError != c.StoredValError
	}

	tx, err := p.DB.Begin()
	if err != nil {
		return fserr.Storage(err, "begin analysis tx for version %d", c.VersionID)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if c.CreatedThisScan {
		hashScan := c.StoredLastHashScan
		if c.NeedsHash {
			hashScan = scan.ScanID
		}
		valScan := c.StoredLastValScan
		if c.NeedsVal {
			valScan = scan.ScanID
		}
		if err := model.UpdateAnalysisInPlace(tx, c.VersionID, newHash, newVal, newValError, access, hashScan, valScan); err != nil {
			return err
		}
		return commitTx(tx, &committed)
	}

	if !hashChanged && !valChanged && access == model.AccessOk {
		var hashScan, valScan *int64
		if c.NeedsHash {
			s := scan.ScanID
			hashScan = &s
		}
		if c.NeedsVal {
			s := scan.ScanID
			valScan = &s
		}
		if err := model.UpdateBookkeeping(tx, scan.ScanID, c.VersionID, hashScan, valScan); err != nil {
			return err
		}
		return commitTx(tx, &committed)
	}

	if err := undolog.RestoreIfTouched(tx, scan.ScanID, c.VersionID); err != nil {
		return err
	}

	lastHashScan := c.StoredLastHashScan
	if c.NeedsHash {
		lastHashScan = scan.ScanID
	}
	lastValScan := c.StoredLastValScan
	if c.NeedsVal {
		lastValScan = scan.ScanID
	}

	v := &model.ItemVersion{
		ItemID:       c.ItemID,
		FirstScanID:  scan.ScanID,
		LastScanID:   scan.ScanID,
		IsAdded:      false,
		IsDeleted:    false,
		Access:       access,
		ModDate:      c.ModDate,
		Size:         c.Size,
		HasFileData:  true,
		FileHash:     newHash,
		Val:          newVal,
		ValError:     newValError,
		LastHashScan: lastHashScan,
		LastValScan:  lastValScan,
	}
	if _, err := model.InsertFull(tx, v); err != nil {
		return err
	}
	return commitTx(tx, &committed)
}

func commitTx(tx interface{ Commit() error }, committed *bool) error {
	if err := tx.Commit(); err != nil {
		return fserr.Storage(err, "commit analysis tx")
	}
	*committed = true
	return nil
}
