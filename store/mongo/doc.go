// Package mongo implements store.Store on MongoDB using the official v2
// driver.
//
// Jobs live in a single outbox_jobs collection keyed by job ID. Transitions
// are UpdateOne calls whose filter includes the expected status, which
// gives the same compare-and-update guarantee as the SQL backends.
//
//	s, err := mongo.Connect(ctx, "mongodb://localhost:27017", "outbox")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrate only creates indexes. Timestamps are stored as BSON dates, so
// they round to the millisecond.
package mongo
