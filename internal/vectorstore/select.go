package vectorstore

import (
	"context"
	"log"
)

// Opener constructs one backend tier. Postgres and SQLite openers live in
// their own subpackages; they are passed in here so this package stays free
// of driver imports.
type Opener func(ctx context.Context) (Backend, error)

// Select probes the given openers in order and returns the first backend
// that initializes successfully. It is evaluated once at startup; the result
// is cached by the caller for the process lifetime and never re-probed.
//
// Select never fails: the final opener is expected to be the in-process
// fallback, which cannot error. If every opener fails anyway, it returns nil
// and the memory subsystem degrades to unavailable.
func Select(ctx context.Context, openers ...Opener) Backend {
	for _, open := range openers {
		backend, err := open(ctx)
		if err != nil {
			log.Printf("vectorstore: backend init failed, trying next tier: %v", err)
			continue
		}
		if backend == nil {
			continue
		}
		log.Printf("vectorstore: using %s backend", backend.Kind())
		return backend
	}
	log.Printf("ERROR: vectorstore: no backend could be initialized")
	return nil
}
