package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type venueStat struct {
	messages int64
	bytes    int64
}

var (
	errorCount   int64
	warnCount    int64
	restRequests int64
	streamReads  int64
	reconnects   int64
	venues       sync.Map // map[string]*venueStat
)

func recordWarn(component string) {
	atomic.AddInt64(&warnCount, 1)
}

func recordError(component string) {
	atomic.AddInt64(&errorCount, 1)
}

// IncrementRESTRequest records one outbound REST call for the venue.
func IncrementRESTRequest(venue string) {
	atomic.AddInt64(&restRequests, 1)
	recordVenue(venue+"_rest", 0)
}

// IncrementStreamRead records one inbound websocket frame for the venue.
func IncrementStreamRead(venue string, size int) {
	atomic.AddInt64(&streamReads, 1)
	recordVenue(venue+"_ws", size)
}

// IncrementReconnect records one stream reconnection for the venue.
func IncrementReconnect(venue string) {
	atomic.AddInt64(&reconnects, 1)
	recordVenue(venue+"_reconnect", 0)
}

func RecordVenueMessage(name string, size int) {
	recordVenue(name, size)
}

func recordVenue(name string, size int) {
	v, _ := venues.LoadOrStore(name, &venueStat{})
	vs := v.(*venueStat)
	atomic.AddInt64(&vs.messages, 1)
	atomic.AddInt64(&vs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and venue statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	venueData := map[string]map[string]int64{}
	venues.Range(func(k, v any) bool {
		name := k.(string)
		vs := v.(*venueStat)
		venueData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&vs.messages),
			"bytes":    atomic.LoadInt64(&vs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors":         atomic.LoadInt64(&errorCount),
		"warns":          atomic.LoadInt64(&warnCount),
		"rest_requests":  atomic.LoadInt64(&restRequests),
		"stream_reads":   atomic.LoadInt64(&streamReads),
		"reconnects":     atomic.LoadInt64(&reconnects),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"venues":         venueData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Gateway-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Gateway-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Gateway-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Gateway-Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gateway-Warns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gateway-RESTRequests"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["rest_requests"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gateway-StreamReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["stream_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gateway-Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["reconnects"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gateway-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Gateway-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range venueData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Gateway-VenueMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Venue"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Gateway-VenueBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Venue"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
