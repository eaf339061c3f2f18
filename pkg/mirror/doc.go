// Package mirror defines the finished records forumtap mirrors out of the
// forum together with the Redis store and message bus that forumtap
// components share.
//
// # Records
//
// A Record is the unit every storage sink receives. It carries exactly one
// payload: an Article (written or edited, with up to MaxAttachments binary
// attachments), a Comment or a Note. Articles whose server id never arrived
// keep SentinelID and are always stored as new rows.
//
// Comment and note bodies are stored still percent-encoded, exactly as the
// browser submitted them. DisplayBody decodes them for rendering.
//
// # Redis Schema
//
//	forumtap:{instance}:record:{record_id}              record hash
//	forumtap:{instance}:record:{record_id}:attachments  attachment payloads
//	forumtap:{instance}:records                          ZSET by created_at_ms
//	forumtap:{instance}:article_index                    article id -> record id
//
// Pub/Sub channels:
//
//	forumtap:{instance}:record_events       record summaries after each save
//	forumtap:{instance}:extension_messages  content-script messages
//
// # Usage Example
//
//	client, err := mirror.NewClientFromURL("redis://localhost:6379", "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	rec := mirror.NewArticleRecord(&mirror.Article{
//		ID:      501,
//		BoardID: 1765,
//		Title:   "hello",
//	}, time.Now())
//
//	if _, err := client.SaveRecord(ctx, rec); err != nil {
//		log.Fatal(err)
//	}
package mirror
