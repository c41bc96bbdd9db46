// Package docstore is the document and vector store the pipelines read
// papers, insights and problems from and write links, reports, trends and
// run records to.
//
// DB implements Store over a Backend that keeps opaque JSON documents per
// collection. Two backends exist: memory (tests, single process) and
// sqlite (modernc.org/sqlite). Vector search scans the embedded insights
// and ranks them by cosine similarity.
//
//	db := docstore.New(memory.New())
//	id, err := db.PutProblem(ctx, &docstore.Problem{Title: "Churn prediction"})
package docstore
