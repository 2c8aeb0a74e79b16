package transfer

import "io"

// minReportStep is the smallest progress increase that produces a new
// IN_PROGRESS notification from a ProgressReader. Keeps listener traffic
// bounded on large transfers.
const minReportStep = 0.01

// ProgressReader pushes byte counts into a Job as the wrapped reader is
// consumed. This is the push-style monitor: the code streaming the data
// drives the notifications directly.
type ProgressReader struct {
	r        io.Reader
	job      *Job
	n        int64
	reported float64
}

// NewProgressReader wraps r so every Read advances job.
func NewProgressReader(r io.Reader, job *Job) *ProgressReader {
	return &ProgressReader{r: r, job: job, reported: -1}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.maybeReport()
	}

	return n, err
}

// N returns the number of bytes read so far.
func (p *ProgressReader) N() int64 { return p.n }

func (p *ProgressReader) maybeReport() {
	total := p.job.Total()
	if total <= 0 {
		p.job.ReportBytes(p.n)
		return
	}

	progress := float64(p.n) / float64(total)
	if progress-p.reported < minReportStep && p.n < total {
		return
	}

	p.reported = progress
	p.job.ReportBytes(p.n)
}
