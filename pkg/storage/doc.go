/*
Package storage provides the pluggable event log behind ingestion, stats and export.

# Storage Interface

All backends implement Storage:

	type Storage interface {
	    Write(ctx context.Context, events []event.Persisted) error
	    Query(ctx context.Context, req QueryRequest) ([]event.Persisted, error)
	    Snapshot(ctx context.Context, recentLimit int) (*event.Snapshot, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

Backends:
  - memory: process-local, for tests and throwaway demos
  - badger: embedded LSM store, the default for a single collector
  - sqlite: single file, handy when the log should be inspectable with SQL tools
  - postgres: shared database for several collector replicas

# Snapshot Consistency

Snapshot must read the log once. Every backend answers it from a single read
(one lock, one read transaction, or one SQL statement), so totalEvents always
equals the sum of each facet map even while writes are in flight.

# Ordering

Query and the recent part of Snapshot are newest first, by server timestamp.
Events sharing a timestamp come back in a stable backend-defined order.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data/tinytrack"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	err = store.Write(ctx, []event.Persisted{{
	    ID:        uuid.NewString(),
	    Component: "Button",
	    Variant:   "primary",
	    Action:    "click",
	    Timestamp: time.Now().UTC(),
	}})

	snap, err := store.Snapshot(ctx, 20)
	fmt.Println(snap.TotalEvents, snap.TotalsByComponent)
*/
package storage
