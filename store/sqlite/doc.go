// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver. Suitable for embedded
// deployments, CLI tools and single-host runner fleets.
//
// Every compare-and-swap runs in an immediate transaction, so concurrent
// runners sharing the database file serialize on the write lock. Lock
// expiry is judged by the application clock.
//
//	import "github.com/danthegoodman1/DurableSnake/store/sqlite"
//
//	s, err := sqlite.Open("durablesnake.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Timestamps are stored as integer nanoseconds since the Unix epoch, with 0
// meaning "not yet reached".
package sqlite
