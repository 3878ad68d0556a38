// Package metrics exports vport statistics to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/vswitch/internal/vswitch/vport"
)

var portLabels = []string{"dp", "port", "port_no", "type"}

var (
	rxPacketsDesc = prometheus.NewDesc("vswitch_port_rx_packets_total",
		"Packets received on the port", portLabels, nil)
	rxBytesDesc = prometheus.NewDesc("vswitch_port_rx_bytes_total",
		"Bytes received on the port", portLabels, nil)
	txPacketsDesc = prometheus.NewDesc("vswitch_port_tx_packets_total",
		"Packets transmitted on the port", portLabels, nil)
	txBytesDesc = prometheus.NewDesc("vswitch_port_tx_bytes_total",
		"Bytes transmitted on the port", portLabels, nil)
	rxErrorsDesc = prometheus.NewDesc("vswitch_port_rx_errors_total",
		"Receive errors recorded on the port", portLabels, nil)
	rxDroppedDesc = prometheus.NewDesc("vswitch_port_rx_dropped_total",
		"Received packets dropped on the port", portLabels, nil)
	txErrorsDesc = prometheus.NewDesc("vswitch_port_tx_errors_total",
		"Transmit errors recorded on the port", portLabels, nil)
	txDroppedDesc = prometheus.NewDesc("vswitch_port_tx_dropped_total",
		"Transmitted packets dropped on the port", portLabels, nil)
)

// Collector scrapes per-port stats snapshots from the vport registry.
type Collector struct {
	reg *vport.Registry
}

// NewCollector returns a collector over reg.
func NewCollector(reg *vport.Registry) *Collector {
	return &Collector{reg: reg}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- rxPacketsDesc
	ch <- rxBytesDesc
	ch <- txPacketsDesc
	ch <- txBytesDesc
	ch <- rxErrorsDesc
	ch <- rxDroppedDesc
	ch <- txErrorsDesc
	ch <- txDroppedDesc
}

// Collect implements prometheus.Collector. The registry walk happens
// under a read-side guard, as stats queries require.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	g := c.reg.ReadLock()
	defer g.Unlock()

	c.reg.ForEach(func(v *vport.Vport) {
		s := v.GetStats()
		labels := []string{
			v.Datapath().Name(),
			v.Name(),
			strconv.FormatUint(uint64(v.PortNo()), 10),
			v.Type().String(),
		}
		counter := func(d *prometheus.Desc, val uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(val), labels...)
		}
		counter(rxPacketsDesc, s.RxPackets)
		counter(rxBytesDesc, s.RxBytes)
		counter(txPacketsDesc, s.TxPackets)
		counter(txBytesDesc, s.TxBytes)
		counter(rxErrorsDesc, s.RxErrors)
		counter(rxDroppedDesc, s.RxDropped)
		counter(txErrorsDesc, s.TxErrors)
		counter(txDroppedDesc, s.TxDropped)
	})
}
