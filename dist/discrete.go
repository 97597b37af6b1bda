// Package dist implements the node/output distributions used by the forest
// specializations: a discrete class-frequency distribution for the
// classifier, and a von Mises circular distribution for the regressor.
package dist

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DiscreteDist is a probability mass function over K discrete class labels.
// It serves as both the node and output distribution for the classifier
// specialization.
type DiscreteDist struct {
	k int
	p []float64
}

// NewDiscreteDist returns a distribution over k classes, initialised to all
// zero probability.
func NewDiscreteDist(k int) *DiscreteDist {
	return &DiscreteDist{k: k, p: make([]float64, k)}
}

// Initialise sets the number of classes and zeroes the probability vector.
func (d *DiscreteDist) Initialise(k int) {
	d.k = k
	d.p = make([]float64, k)
}

// Reset zeroes the probability vector without changing the class count. Used
// before accumulating an output distribution via repeated Combine calls.
func (d *DiscreteDist) Reset() {
	for c := range d.p {
		d.p[c] = 0
	}
}

// Fit sets p[c] to the empirical frequency of class c among labels. An empty
// label set yields the uniform distribution 1/K.
func (d *DiscreteDist) Fit(labels []int) {
	if len(labels) == 0 {
		u := 1.0 / float64(d.k)
		for c := range d.p {
			d.p[c] = u
		}
		return
	}

	for c := range d.p {
		d.p[c] = 0
	}
	for _, c := range labels {
		d.p[c]++
	}
	n := float64(len(labels))
	for c := range d.p {
		d.p[c] /= n
	}
}

// Pdf returns the probability mass assigned to class label.
func (d *DiscreteDist) Pdf(label int) float64 {
	return d.p[label]
}

// Combine accumulates another distribution's mass into this one without
// normalising; callers normalise once after combining across an ensemble.
func (d *DiscreteDist) Combine(other *DiscreteDist) {
	for c := range d.p {
		d.p[c] += other.p[c]
	}
}

// Normalise rescales p so it sums to one.
func (d *DiscreteDist) Normalise() {
	sum := 0.0
	for _, v := range d.p {
		sum += v
	}
	if sum == 0 {
		return
	}
	for c := range d.p {
		d.p[c] /= sum
	}
}

// RaiseTemperature applies a softmax-with-temperature smoothing to the
// probabilities themselves (not log-probabilities, matching the documented
// behavior of the library this distribution is modeled on). T<=0 is a no-op.
func (d *DiscreteDist) RaiseTemperature(t float64) {
	if t <= 0 {
		return
	}
	for c := range d.p {
		d.p[c] = math.Exp(d.p[c] / t)
	}
	d.Normalise()
}

// NumClasses returns K.
func (d *DiscreteDist) NumClasses() int {
	return d.k
}

// Probs returns the underlying probability vector. The caller must not
// mutate the returned slice.
func (d *DiscreteDist) Probs() []float64 {
	return d.p
}

// WriteTo serializes the distribution as K space-separated floats.
func (d *DiscreteDist) WriteTo(w *bufio.Writer) error {
	for c, v := range d.p {
		if c > 0 {
			if _, err := w.WriteString(" "); err != nil {
				return errors.Wrap(err, "writing discrete distribution")
			}
		}
		if _, err := w.WriteString(strconv.FormatFloat(v, 'g', -1, 64)); err != nil {
			return errors.Wrap(err, "writing discrete distribution")
		}
	}
	return nil
}

// ReadFrom parses K space-separated floats into the probability vector. The
// distribution must already have been Initialise'd with the correct K.
func (d *DiscreteDist) ReadFrom(r *bufio.Reader) error {
	for c := 0; c < d.k; c++ {
		tok, err := readToken(r)
		if err != nil {
			return errors.Wrap(err, "reading discrete distribution")
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return errors.Wrapf(err, "parsing discrete probability %d", c)
		}
		d.p[c] = v
	}
	return nil
}

// readToken reads the next whitespace-delimited token from r, skipping
// leading whitespace (including newlines). Shared by DiscreteDist and
// VonMisesDist since the file format is otherwise whitespace-agnostic.
func readToken(r *bufio.Reader) (string, error) {
	var b strings.Builder
	// skip leading whitespace
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if !isSpace(c) {
			if err := r.UnreadByte(); err != nil {
				return "", err
			}
			break
		}
	}
	for {
		c, err := r.ReadByte()
		if err != nil {
			if b.Len() > 0 {
				return b.String(), nil
			}
			return "", err
		}
		if isSpace(c) {
			if err := r.UnreadByte(); err != nil {
				return "", err
			}
			return b.String(), nil
		}
		b.WriteByte(c)
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// String renders the distribution for debugging.
func (d *DiscreteDist) String() string {
	return fmt.Sprintf("DiscreteDist%v", d.p)
}
