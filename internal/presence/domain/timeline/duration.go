package timeline

import "time"

// BucketSeconds is the length of one hour bucket in seconds.
const BucketSeconds = 3600

// BucketResult is the online time computed for one bucket.
type BucketResult struct {
	Key     BucketKey
	Seconds float64
}

// OnlineSeconds integrates online time over the bucket identified by key.
//
// The bucket start is the clock origin: a first descriptor without a timestamp
// is anchored there, and a first label that was online before its event counts
// from the start edge. Every descriptor that leaves the provider online counts
// until the next descriptor, and the last one until the bucket end.
func OnlineSeconds(key BucketKey, descriptors []Descriptor) (float64, error) {
	n := len(descriptors)
	if n == 0 {
		return 0, invariantErr(key, RuleEmptyBucket, "bucket has no descriptors")
	}
	start, end := key.Start(), key.End()

	times := make([]time.Time, n)
	for i, d := range descriptors {
		at := d.At
		if d.Anchored() {
			if i != 0 {
				return 0, invariantErr(key, RuleDescriptorTime, "descriptor %d has no timestamp", i)
			}
			at = start
		}
		if at.Before(start) || !at.Before(end) {
			return 0, invariantErr(key, RuleDescriptorTime, "descriptor %d at %s is outside the bucket", i, at.Format(time.RFC3339))
		}
		if i > 0 && at.Before(times[i-1]) {
			return 0, invariantErr(key, RuleDescriptorTime, "descriptor %d is earlier than descriptor %d", i, i-1)
		}
		times[i] = at
	}

	var online time.Duration
	if descriptors[0].Label.OnlineBefore() {
		online += times[0].Sub(start)
	}
	for i := 0; i < n-1; i++ {
		if descriptors[i].Label.OnlineAfter() {
			online += times[i+1].Sub(times[i])
		}
	}
	if descriptors[n-1].Label.OnlineAfter() {
		online += end.Sub(times[n-1])
	}

	seconds := online.Seconds()
	if seconds < 0 || seconds > BucketSeconds {
		return 0, invariantErr(key, RuleSecondsRange, "online seconds %.3f outside [0, %d]", seconds, BucketSeconds)
	}
	return seconds, nil
}

// Aggregate computes online seconds for every bucket.
func Aggregate(buckets []Bucket) ([]BucketResult, error) {
	out := make([]BucketResult, 0, len(buckets))
	for _, b := range buckets {
		seconds, err := OnlineSeconds(b.Key, b.Descriptors)
		if err != nil {
			return nil, err
		}
		out = append(out, BucketResult{Key: b.Key, Seconds: seconds})
	}
	return out, nil
}
