// Package resolver locates the file a conversion run produced.
//
// The canonical path <output_dir>/<stem>.<ext> is checked first. When it is
// missing, each configured Source contributes candidates (directory globs for
// <stem>*, then path-shaped tokens scraped from the converter's output). The
// newest candidate by modification time wins and is published into the output
// directory under its own file name. A failed publish is reported on the
// Resolution but does not fail the job.
package resolver
