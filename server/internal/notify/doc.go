// Package notify forwards stored notifications to operator webhooks.
//
// Dispatcher implements relay.Notifier. Notify never blocks: notifications
// go into a bounded buffer and, when it is full, the oldest is evicted. Run
// drains the buffer and posts each notification to every configured target:
//
//	slack: {"text": "*<title>* <body>"}
//	teams: MessageCard with title and text
//	http: {"notification": <notification JSON>}
//
// A failed post is retried with jittered exponential backoff (100ms doubling
// to 5s, ±25%) up to three attempts, then logged and dropped.
package notify
