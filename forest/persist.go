package forest

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const formatMagic = "canopy-forest 1"

// WriteTo serializes a trained forest as whitespace-delimited ASCII text:
// a magic/version line, the run tag, tree/level/fit-split-nodes counts,
// the specialization's own header, and then each tree's flat node array
// one record per line ("leaf <dist>", "split <params> <threshold>
// [<dist>]", or "orphan" for a node whose parent is already a leaf).
func (f *Forest[L, Dn, Do]) WriteTo(w io.Writer) error {
	if !f.trained {
		return newConfigError("cannot persist an untrained forest")
	}

	bw := bufio.NewWriter(w)

	writeLine := func(s string) error {
		_, err := bw.WriteString(s + "\n")
		return err
	}

	if err := writeLine(formatMagic); err != nil {
		return newIOError("writing header", err)
	}
	if err := writeLine(f.runTag); err != nil {
		return newIOError("writing run tag", err)
	}
	fit := 0
	if f.fitSplitNodes {
		fit = 1
	}
	if err := writeLine(fmt.Sprintf("%d %d %d", f.numTrees, f.numLevels, fit)); err != nil {
		return newIOError("writing dimensions", err)
	}

	f.spec.PrintHeaderDescription(bw)
	if err := f.spec.PrintHeaderData(bw); err != nil {
		return newIOError("writing specialization header", err)
	}
	if err := bw.WriteByte('\n'); err != nil {
		return newIOError("writing header terminator", err)
	}

	for t := range f.trees {
		if err := writeLine(fmt.Sprintf("tree %d", t)); err != nil {
			return newIOError("writing tree header", err)
		}
		for n := range f.trees[t].nodes {
			if err := writeNode[L, Dn](bw, &f.trees[t].nodes[n], f.fitSplitNodes); err != nil {
				return newIOError("writing node", err)
			}
		}
	}

	return newIOError("flushing forest", bw.Flush())
}

func writeNode[L any, Dn NodeDist[L]](bw *bufio.Writer, nd *node[Dn], fitSplitNodes bool) error {
	switch {
	case nd.isLeaf && nd.hasDist:
		if _, err := bw.WriteString("leaf "); err != nil {
			return err
		}
		if err := nd.dist.WriteTo(bw); err != nil {
			return err
		}
		return bw.WriteByte('\n')
	case nd.isLeaf:
		_, err := bw.WriteString("orphan\n")
		return err
	default:
		if _, err := bw.WriteString("split"); err != nil {
			return err
		}
		for _, p := range nd.params {
			if _, err := bw.WriteString(" " + strconv.Itoa(p)); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(" " + strconv.FormatFloat(nd.threshold, 'g', -1, 64)); err != nil {
			return err
		}
		if fitSplitNodes && nd.hasDist {
			if _, err := bw.WriteString(" "); err != nil {
				return err
			}
			if err := nd.dist.WriteTo(bw); err != nil {
				return err
			}
		}
		return bw.WriteByte('\n')
	}
}

// LoadOption tailors LoadForest's truncation behavior.
type LoadOption func(*loadConfig)

type loadConfig struct {
	maxTrees  int
	maxLevels int
}

// WithMaxTrees caps the number of trees loaded from the file to n,
// ignoring the remainder. Zero (the default) loads every tree the file
// contains.
func WithMaxTrees(n int) LoadOption { return func(c *loadConfig) { c.maxTrees = n } }

// WithMaxLevels caps the number of splitting levels reconstructed from the
// file to n, discarding deeper nodes. Zero (the default) reconstructs the
// full depth the file contains.
func WithMaxLevels(n int) LoadOption { return func(c *loadConfig) { c.maxLevels = n } }

// LoadForest parses a forest previously written by WriteTo. spec and
// newOutput must be compatible with whatever specialization produced the
// file; ReadHeader is expected to reject an incompatible header (e.g. a
// class-count mismatch) with a descriptive error.
func LoadForest[L any, Dn NodeDist[L], Do OutputDist[L, Dn]](
	r io.Reader,
	spec Specialization[L, Dn],
	newOutput func() Do,
	opts ...LoadOption,
) (*Forest[L, Dn, Do], error) {
	cfg := loadConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	br := bufio.NewReader(r)

	magic, err := readLine(br)
	if err != nil {
		return nil, newParseError("reading header", err)
	}
	if magic != formatMagic {
		return nil, newParseError("unrecognised file header: "+magic, nil)
	}

	runTag, err := readLine(br)
	if err != nil {
		return nil, newParseError("reading run tag", err)
	}

	dimLine, err := readLine(br)
	if err != nil {
		return nil, newParseError("reading dimensions", err)
	}
	var fileTrees, fileLevels, fitFlag int
	if _, err := fmt.Sscanf(dimLine, "%d %d %d", &fileTrees, &fileLevels, &fitFlag); err != nil {
		return nil, newParseError("parsing dimensions", err)
	}

	if cfg.maxTrees > fileTrees {
		return nil, newConfigError(fmt.Sprintf(
			"requested max trees %d exceeds the %d trees in the file", cfg.maxTrees, fileTrees))
	}
	if cfg.maxLevels > fileLevels {
		return nil, newConfigError(fmt.Sprintf(
			"requested max levels %d exceeds the %d levels in the file", cfg.maxLevels, fileLevels))
	}
	truncatingLevels := cfg.maxLevels > 0 && cfg.maxLevels < fileLevels
	if truncatingLevels && fitFlag == 0 {
		return nil, newConfigError(
			"cannot truncate levels: file was written without split-node distributions to fall back to")
	}

	// Skip the specialization's human-readable "#" description line(s).
	for {
		b, err := br.Peek(1)
		if err != nil || b[0] != '#' {
			break
		}
		if _, err := readLine(br); err != nil {
			return nil, newParseError("reading header description", err)
		}
	}
	if err := spec.ReadHeader(br); err != nil {
		return nil, newParseError("reading specialization header", err)
	}
	if _, err := br.ReadByte(); err != nil {
		return nil, newParseError("reading header terminator", err)
	}

	numTrees := fileTrees
	if cfg.maxTrees > 0 {
		numTrees = cfg.maxTrees
	}
	numLevels := fileLevels
	if cfg.maxLevels > 0 {
		numLevels = cfg.maxLevels
	}

	f := &Forest[L, Dn, Do]{
		numTrees:      numTrees,
		numLevels:     numLevels,
		fitSplitNodes: fitFlag != 0,
		spec:          spec,
		newOutput:     newOutput,
		runTag:        runTag,
		trained:       true,
	}
	f.trees = make([]tree[Dn], numTrees)

	fileCapacity := capacityForLevels(fileLevels)
	keepCapacity := capacityForLevels(numLevels)
	maxInterior := maxInteriorIndex(numLevels)

	for t := 0; t < fileTrees; t++ {
		if _, err := readLine(br); err != nil {
			return nil, newParseError(fmt.Sprintf("reading header of tree %d", t), err)
		}

		keepTree := t < numTrees
		var tr tree[Dn]
		if keepTree {
			tr = newTree[Dn](numLevels)
		}

		for n := 0; n < fileCapacity; n++ {
			line, err := readLine(br)
			if err != nil {
				return nil, newParseError(fmt.Sprintf("reading node %d of tree %d", n, t), err)
			}

			if !keepTree || n >= keepCapacity {
				continue
			}

			if err := parseNodeLine[L, Dn](line, spec, &tr.nodes[n], fitFlag != 0); err != nil {
				return nil, newParseError(fmt.Sprintf("parsing node %d of tree %d", n, t), err)
			}
			// A node at the new bottom layer has no room for children in
			// the truncated array; flatten it to a leaf, keeping whatever
			// fitted distribution it already carries. Its subtree on disk
			// was parsed above but is discarded here.
			if n > maxInterior && !tr.nodes[n].isLeaf {
				tr.nodes[n].isLeaf = true
			}
		}

		if keepTree {
			f.trees[t] = tr
		}
	}

	return f, nil
}

func parseNodeLine[L any, Dn NodeDist[L]](line string, spec Specialization[L, Dn], nd *node[Dn], fitSplitNodes bool) error {
	switch {
	case line == "orphan":
		nd.isLeaf = true
		return nil
	case strings.HasPrefix(line, "leaf "):
		nd.isLeaf = true
		d := spec.NewNodeDist()
		spec.InitNodeDist(d)
		lr := bufio.NewReader(strings.NewReader(line[len("leaf "):]))
		if err := d.ReadFrom(lr); err != nil {
			return err
		}
		nd.dist = d
		nd.hasDist = true
		return nil
	case strings.HasPrefix(line, "split"):
		fields := strings.Fields(line)
		np := spec.NumParams()
		if len(fields) < 1+np+1 {
			return fmt.Errorf("split node record too short: %q", line)
		}
		params := make([]int, np)
		for i := 0; i < np; i++ {
			v, err := strconv.Atoi(fields[1+i])
			if err != nil {
				return err
			}
			params[i] = v
		}
		threshold, err := strconv.ParseFloat(fields[1+np], 64)
		if err != nil {
			return err
		}
		nd.params = params
		nd.threshold = threshold
		nd.isLeaf = false
		if fitSplitNodes && len(fields) > 2+np {
			d := spec.NewNodeDist()
			spec.InitNodeDist(d)
			rest := strings.Join(fields[2+np:], " ")
			lr := bufio.NewReader(strings.NewReader(rest))
			if err := d.ReadFrom(lr); err != nil {
				return err
			}
			nd.dist = d
			nd.hasDist = true
		}
		return nil
	default:
		return fmt.Errorf("unrecognised node record: %q", line)
	}
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
