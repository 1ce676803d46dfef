// Package textutil cleans user supplied names before they become archive
// entries.
package textutil
