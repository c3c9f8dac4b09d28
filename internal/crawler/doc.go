// Package crawler implements the crawl orchestration engine: frontier and
// visited-set management, robots and sitemap driven seeding, the bounded
// worker pool, and the streaming crawl event sequence.
package crawler
