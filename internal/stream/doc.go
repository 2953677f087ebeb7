// Package stream tracks IQ data stream continuity.
// It follows data item sequence numbers across the 16-bit wrap and reports
// gaps, late and duplicate datagrams without reordering anything.
package stream
