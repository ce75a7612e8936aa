// Package docstore stores named JSON documents in a directory, safe against
// concurrent processes, partial writes and corruption.
//
// A document "rbac" lives at <base>/rbac.json. Every operation on it runs
// under the document's exclusive lock (see package filelock) from the first
// read to the final commit, so read-modify-write cycles such as [Store.Update]
// never lose updates.
//
// # Commits
//
// New content is written to a temporary file in the document's directory,
// synced and renamed over the document ([Committer]). Readers see the old or
// the new content, never a mix. Failed commits are retried a bounded number
// of times and then surface as [WriteError] with the document unchanged.
//
// # Backups
//
// Before overwriting a document its current bytes are copied to
// <base>/backups/<name>_<timestamp>_<token>.bck ([Backups]). Backups are
// never modified; only [Store.Prune], or a configured retention count,
// deletes them. When a document is corrupt or missing and a decodable backup
// exists, the newest such backup is committed back and the read reports
// Recovered. Otherwise a corrupt document yields [DecodeError].
//
// # Basic Usage
//
//	store, err := docstore.New(docstore.DefaultOptions("/srv/portal/data"))
//	if err != nil {
//	    return err
//	}
//
//	doc, err := store.Read(ctx, "weblinks", map[string]any{"links": []any{}})
//	if doc.Created {
//	    // first use
//	}
//
//	err = store.Append(ctx, "weblinks", "links", map[string]any{"url": u})
package docstore
