package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/v-t-p/copyd/internal/errs"
)

// IOUringThreshold is the minimum request length (1 MiB) at which
// auto-selection considers the io_uring strategy over sendfile. It is
// compared with Request.Length, the length of the current call, not with
// the size of the whole file.
const IOUringThreshold = 1 << 20

// Registry enumerates strategies in priority order and dispatches one
// chunk transfer, implementing the selection policy of spec §4.2.
type Registry struct {
	log        *logrus.Entry
	reflink    Strategy
	cfr        Strategy
	sendfile   Strategy
	iouring    Strategy
	readwrite  Strategy
	uringReady bool
}

// NewRegistry builds the registry with the standard priority order:
// reflink, copy_file_range, io_uring, sendfile, read/write. If io_uring
// fails to initialize (e.g. unsupported by the running kernel) it is left
// out of auto-selection and an explicit io_uring request is rejected.
func NewRegistry(log *logrus.Entry, ioUringEntries uint32) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Registry{
		log:       log.WithField("component", "engine_registry"),
		reflink:   newReflinkStrategy(),
		cfr:       newCopyFileRangeStrategy(),
		sendfile:  newSendfileStrategy(),
		readwrite: newReadWriteStrategy(),
	}
	uring, err := newIOUringStrategy(ioUringEntries)
	if err != nil {
		r.log.WithError(err).Info("io_uring unavailable, falling back to sendfile/read-write")
	} else {
		r.iouring = uring
		r.uringReady = true
	}
	return r
}

// byName resolves an explicit engine request to its Strategy.
func (r *Registry) byName(name Name) (Strategy, bool) {
	switch name {
	case Reflink:
		return r.reflink, true
	case CopyFileRange:
		return r.cfr, true
	case Sendfile:
		return r.sendfile, true
	case IOUring:
		if r.uringReady {
			return r.iouring, true
		}
		return nil, false
	case ReadWrite:
		return r.readwrite, true
	default:
		return nil, false
	}
}

// autoOrder is the priority list auto-selection tries in turn, filtered
// by each strategy's cheap Applicable() check (spec §4.2).
func (r *Registry) autoOrder(req Request) []Strategy {
	order := make([]Strategy, 0, 5)
	order = append(order, r.reflink, r.cfr)
	if r.uringReady && req.Length >= IOUringThreshold {
		order = append(order, r.iouring)
	}
	order = append(order, r.sendfile, r.readwrite)
	return order
}

// Transfer dispatches req to the selected strategy. When req carries no
// explicit engine name (handled by the caller passing Name("")), the
// registry tries strategies in priority order, advancing past any that
// report themselves not applicable or fail with an errno classified as
// errs.NotApplicable (ENOTSUP/EXDEV/EOPNOTSUPP), per spec §4.2 and §7.
// An explicit engine request bypasses auto-selection entirely; any
// failure from it is reported rather than retried with another strategy.
func (r *Registry) Transfer(name Name, req Request) (Result, error) {
	if name != "" {
		strat, ok := r.byName(name)
		if !ok {
			return Result{}, errs.Wrap(errs.EngineUnsupported, "", string(name),
				fmt.Errorf("engine %q not available on this host", name))
		}
		return strat.Transfer(req)
	}

	var lastErr error
	for _, strat := range r.autoOrder(req) {
		if strat == nil || !strat.Applicable(req) {
			continue
		}
		res, err := strat.Transfer(req)
		if err == nil {
			return res, nil
		}
		if errs.NotApplicable(err) {
			r.log.WithError(err).WithField("engine", strat.Name()).Debug("strategy not applicable, trying next")
			lastErr = err
			continue
		}
		return res, err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no copy engine strategy applicable")
	}
	return Result{}, errs.Wrap(errs.EngineUnsupported, "", "", lastErr)
}
