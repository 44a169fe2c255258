// Package main provides the entry point for the qr-spider CLI.
//
// qr-spider finds and decodes QR code images on web pages, either for a
// fixed list of pages or by crawling a site breadth-first.
//
// Usage:
//
//	qr-spider scan <url>...
//	qr-spider crawl <seed-url>
//	qr-spider serve
//
// See --help for all available options.
package main

func main() {
	Execute()
}
