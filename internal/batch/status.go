package batch

import (
	"time"
)

// StatusDoc is the full batch status payload served by the control API and
// the live websocket stream.
type StatusDoc struct {
	BatchID          string         `json:"batch_id"`
	Status           string         `json:"status"`
	Total            int            `json:"total"`
	Processed        int            `json:"processed"`
	SuccessCount     int            `json:"success_count"`
	ErrorCount       int            `json:"error_count"`
	SuccessRatePct   float64        `json:"success_rate_pct"`
	Remaining        int            `json:"remaining"`
	InProgress       int            `json:"in_progress"`
	PeakInProgress   int            `json:"peak_in_progress"`
	ThroughputPerMin float64        `json:"throughput_per_min"`
	ETAMinutes       *float64       `json:"eta_minutes"`
	ElapsedSeconds   float64        `json:"elapsed_seconds"`
	FlushesDone      int            `json:"flushes_done"`
	BufferSize       int            `json:"buffer_size"`
	ProcessingTimeMs TimingStats    `json:"processing_time_ms"`
	ErrorBreakdown   map[string]int `json:"error_breakdown"`
	PagesPerCompany  float64        `json:"pages_per_company_avg"`
	TotalRetries     int            `json:"total_retries"`
	Infrastructure   map[string]any `json:"infrastructure"`
	LastErrors       []LastError    `json:"last_errors"`
	Instances        []InstanceStatus `json:"instances"`
}

// StatusDoc builds the current status document.
func (p *Processor) StatusDoc() StatusDoc {
	snap := p.metrics.snapshot()

	doc := StatusDoc{
		BatchID:          p.id,
		Status:           p.Status(),
		Total:            p.total,
		Processed:        snap.Processed,
		SuccessCount:     snap.Success,
		ErrorCount:       snap.Errors,
		Remaining:        p.total - snap.Processed,
		InProgress:       snap.InProgress,
		PeakInProgress:   snap.PeakInProgress,
		ThroughputPerMin: snap.ThroughputMin,
		ElapsedSeconds:   snap.ElapsedSeconds,
		FlushesDone:      snap.FlushesDone,
		BufferSize:       p.buffer.Size(),
		ProcessingTimeMs: snap.Timing,
		ErrorBreakdown:   snap.ErrorBreakdown,
		TotalRetries:     snap.TotalRetries,
		LastErrors:       snap.LastErrors,
	}
	if doc.Remaining < 0 {
		doc.Remaining = 0
	}
	if snap.Processed > 0 {
		doc.SuccessRatePct = float64(snap.Success) / float64(snap.Processed) * 100
		doc.PagesPerCompany = float64(snap.TotalPages) / float64(snap.Processed)
	}
	if snap.ThroughputMin > 0 && doc.Remaining > 0 {
		eta := float64(doc.Remaining) / snap.ThroughputMin
		doc.ETAMinutes = &eta
	}
	if p.opts.Infrastructure != nil {
		doc.Infrastructure = p.opts.Infrastructure()
	} else {
		doc.Infrastructure = map[string]any{}
	}

	for _, inst := range p.instances {
		inst.mu.Lock()
		is := InstanceStatus{
			ID:        inst.id,
			Status:    inst.status,
			Processed: inst.processed,
			Success:   inst.success,
			Errors:    inst.errors,
		}
		if !inst.started.IsZero() {
			if mins := time.Since(inst.started).Minutes(); mins > 0 {
				is.ThroughputPerMin = float64(inst.processed) / mins
			}
		}
		inst.mu.Unlock()
		doc.Instances = append(doc.Instances, is)
	}
	return doc
}
