// Package registry defines the domain model shared by the SRO registry
// scrapers: the Service contract each registry implements, listing and
// detail shapes, the member row union, and the normalisation helpers that
// turn nested API payloads into flat rows.
package registry
