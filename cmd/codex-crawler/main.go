// Package main provides the codex-crawler command line.
//
// Usage:
//
//	codex-crawler crawl <site>
//	codex-crawler records <site> [--urls file]
//	codex-crawler run [site...] [--all]
//
// See --help for all available options.
package main

func main() {
	Execute()
}
