// Command profile drives the Security worker with synthetic load under
// CPU profiling, the way the teacher's original profiling main drove its
// matching engine — same pprof harness, now pointed at the new per-
// instrument worker instead of the old matching.MatchingEngine.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"secmatch/internal/compute"
	"secmatch/internal/domain"
	"secmatch/internal/phase"
	"secmatch/internal/security"
)

func main() {
	// 创建 CPU profile 文件
	cpuFile, err := os.Create("cpu.prof")
	if err != nil {
		panic(err)
	}
	defer cpuFile.Close()

	// 启动 CPU profiling
	pprof.StartCPUProfile(cpuFile)
	defer pprof.StopCPUProfile()

	fmt.Println("=== 性能分析开始 ===")
	fmt.Println("生成 CPU profile: cpu.prof")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tradeCount atomic.Int64
	trade := func(context.Context, string, domain.Deal) error {
		tradeCount.Add(1)
		return nil
	}

	p := phase.NewController(domain.Continuous)
	sec := security.New(ctx, "BTCUSDT", p, trade, compute.NewPool(4), zerolog.Nop(), 0, 0)
	defer sec.Stop()

	// 测试参数
	duration := 10 * time.Second
	numCPU := runtime.NumCPU()
	numWorkers := numCPU - 2
	if numWorkers < 1 {
		numWorkers = 1
	}

	var orderCount atomic.Int64
	var seq atomic.Int64
	noopStore := func(context.Context, *domain.Order) error { return nil }

	fmt.Printf("CPU 核心数: %d\n", numCPU)
	fmt.Printf("生产者数量: %d\n", numWorkers)
	fmt.Printf("测试时长: %v\n\n", duration)

	startTime := time.Now()
	stopChan := make(chan struct{})

	// 启动多个生产者
	for w := 0; w < numWorkers; w++ {
		go func(workerID int) {
			orderID := 0
			for {
				select {
				case <-stopChan:
					return
				default:
					var dir domain.Dir
					if orderID%2 == 0 {
						dir = domain.Buy
					} else {
						dir = domain.Sell
					}
					order := &domain.Order{
						Seq:      seq.Add(1),
						Code:     "BTCUSDT",
						Dir:      dir,
						Price:    decimal.NewFromInt(50000 + int64(orderID%200)),
						Quantity: 1,
					}
					if err := sec.Place(ctx, order, noopStore); err == nil {
						orderCount.Add(1)
					}
					orderID++
				}
			}
		}(w)
	}

	// 等待测试时间
	time.Sleep(duration)
	close(stopChan)
	time.Sleep(500 * time.Millisecond)

	elapsed := time.Since(startTime)
	totalOrders := orderCount.Load()
	totalTrades := tradeCount.Load()

	fmt.Println("\n=== 性能测试结果 ===")
	fmt.Printf("总订单数: %d\n", totalOrders)
	fmt.Printf("总成交数: %d\n", totalTrades)
	fmt.Printf("Order QPS: %.0f orders/sec\n", float64(totalOrders)/elapsed.Seconds())
	fmt.Printf("Trade TPS: %.0f trades/sec\n", float64(totalTrades)/elapsed.Seconds())

	fmt.Println("\n分析 CPU profile:")
	fmt.Println("  go tool pprof -http=:8080 cpu.prof")
	fmt.Println("  或者: go tool pprof cpu.prof")
	fmt.Println("  然后输入: top10  (查看前 10 个热点函数)")
	fmt.Println("  然后输入: list <函数名>  (查看具体代码)")
}
