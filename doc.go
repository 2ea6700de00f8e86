// Package sos salvages index keys out of a damaged SQLite-format database
// whose pages carry an 8-byte trailing checksum, and rebuilds them into a
// fresh template database through the engine's btree cursor API.
//
// The source file is memory-mapped read-only and walked page by page.
// Every page whose flag byte marks it as an index leaf (0x0a) or index
// interior (0x02) page is decoded: the cell pointer array is walked, each
// cell's key payload is reassembled (following overflow chains where the
// payload spills), and the payload is inserted as-is into the template's
// index rooted at page 3. Inserts are committed in bounded batches and the
// write-ahead log is checkpointed periodically.
//
// Basic usage:
//
//	src, err := sos.OpenFile("damaged.sqlite")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Close()
//
//	codec := sos.NewChecksumCodec("template.sqlite", nil)
//	db, err := engine.OpenTemplate("template.sqlite", codec)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	r := sos.NewRestorer(src, db, sos.Options{StartPage: 2})
//	if err := r.Run(); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(r.Metrics().String())
//
// Pages the decoder does not recognise are skipped and counted; cells that
// fail to decode (zero size, impossible size, broken overflow chain) are
// skipped without aborting the run. Errors surfaced by the engine are
// fatal.
package sos
