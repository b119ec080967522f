package timeline

import "time"

const descriptorTimeLayout = "2006-01-02 15:04:05"

// Descriptor pairs an event instant with its label. A zero At means the
// descriptor is a carried state anchored to the start of its bucket.
type Descriptor struct {
	At    time.Time
	Label Label
}

// Anchored reports whether the descriptor has no explicit timestamp.
func (d Descriptor) Anchored() bool { return d.At.IsZero() }

// String renders "time/label", or just the label for anchored descriptors.
func (d Descriptor) String() string {
	if d.Anchored() {
		return d.Label.String()
	}
	return d.At.Format(descriptorTimeLayout) + "/" + d.Label.String()
}

// Describe turns a labeled row into its descriptor.
func Describe(row LabeledRow) Descriptor {
	return Descriptor{At: row.At, Label: row.Label}
}

// Bucket is the ordered descriptor sequence of one bucket.
type Bucket struct {
	Key         BucketKey
	Descriptors []Descriptor
}

// GroupBuckets collects consecutive rows with the same key into buckets.
func GroupBuckets(rows []LabeledRow) []Bucket {
	var buckets []Bucket
	for _, row := range rows {
		n := len(buckets)
		if n == 0 || !buckets[n-1].Key.same(row.Key) {
			buckets = append(buckets, Bucket{Key: row.Key})
			n++
		}
		buckets[n-1].Descriptors = append(buckets[n-1].Descriptors, Describe(row))
	}
	return buckets
}
