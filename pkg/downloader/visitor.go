package downloader

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
)

// Visitor observes objects as they are resolved. RPMs are reported after
// their stage drains, with batch-wide mutation checks applied. Calls are serialized, so
// implementations need no locking, but they must not block for long. Visitors
// cannot influence the download.
type Visitor interface {
	VisitRepomd(r RepomdResult)
	VisitRepodata(e repo.Entry, obj RepodataObject)
	VisitRpm(e repo.Entry, obj RpmObject)
}

type visitors struct {
	mu   sync.Mutex
	list []Visitor
	log  *logrus.Logger
}

func (v *visitors) each(fn func(Visitor)) {
	if len(v.list) == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, vis := range v.list {
		func() {
			defer func() {
				if r := recover(); r != nil {
					v.log.WithField("panic", r).Error("visitor panicked")
				}
			}()
			fn(vis)
		}()
	}
}

// LogVisitor logs every resolved object: failures at warn, the rest at debug.
type LogVisitor struct {
	Log *logrus.Logger
}

func (l LogVisitor) VisitRepomd(r RepomdResult) {
	entry := l.Log.WithFields(logrus.Fields{"universe": r.Entry.Universe, "repo": r.Entry.Repo.Name})
	if r.Err != nil {
		entry.WithError(r.Err).Warn("repomd failed")
		return
	}
	entry.WithField("checksum", r.Repomd.Checksum).Debug("repomd fetched")
}

func (l LogVisitor) VisitRepodata(e repo.Entry, obj RepodataObject) {
	entry := l.Log.WithFields(logrus.Fields{
		"universe": e.Universe, "repo": e.Repo.Name, "role": obj.Role,
	})
	if obj.Err != nil {
		entry.WithError(obj.Err).Warn("repodata failed")
		return
	}
	entry.WithFields(logrus.Fields{"storage_id": obj.StorageID, "deduped": obj.Deduped}).Debug("repodata resolved")
}

func (l LogVisitor) VisitRpm(e repo.Entry, obj RpmObject) {
	entry := l.Log.WithFields(logrus.Fields{
		"universe": e.Universe, "repo": e.Repo.Name, "rpm": obj.Package.NEVRA(),
	})
	if obj.Err != nil {
		entry.WithError(obj.Err).Warn("rpm failed")
		return
	}
	entry.WithFields(logrus.Fields{"storage_id": obj.StorageID, "deduped": obj.Deduped}).Debug("rpm resolved")
}
