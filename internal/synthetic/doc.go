// Package synthetic provides a self-contained stand-in for the external
// numerical collaborators of a clean run: point-source sky fields with a
// gaussian psf, data-partition workers, a gridding engine driving them
// and a Högbom minor-cycle kernel. It lets the CLI run a complete clean
// without visibility data.
package synthetic
