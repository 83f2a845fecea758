package main

import (
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"

	"tx-dispatcher-sol/internal/config"
	"tx-dispatcher-sol/internal/logic/plan"
	"tx-dispatcher-sol/internal/pkg/logger"
	"tx-dispatcher-sol/internal/service"
	"tx-dispatcher-sol/internal/svc"
)

var (
	configFile = flag.String("f", "etc/dispatch.yaml", "the config file")
	planFile   = flag.String("p", "etc/plan.yaml", "the dispatch plan file")
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
			code = 2
		}
	}()

	flag.Parse()

	var c config.DispatchConfig
	conf.MustLoad(*configFile, &c)

	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		logx.Errorf("init logger: %v", err)
		return 1
	}
	defer logger.Sync()

	p, err := plan.Load(*planFile)
	if err != nil {
		logx.Errorf("load plan %s: %v", *planFile, err)
		return 1
	}

	serviceContext, err := svc.NewServiceContext(c)
	if err != nil {
		logx.Errorf("init service context: %v", err)
		return 1
	}
	defer serviceContext.Close()

	opt := service.DispatchServiceOption{
		Topic:      c.KafkaProducerConf.Topic,
		Partitions: c.KafkaProducerConf.Partitions,
	}
	// 接口字段只在资源存在时赋值，避免 typed nil
	if serviceContext.JobStore != nil {
		opt.Store = serviceContext.JobStore
	}
	if serviceContext.Publisher != nil {
		opt.Publisher = serviceContext.Publisher
	}
	dispatchService := service.NewDispatchService(p, serviceContext.Signer.PublicKey(), serviceContext.Dispatcher, opt)

	sg := zerosvc.NewServiceGroup()
	sg.Add(dispatchService)
	if c.MetricsConf.ListenAddr != "" {
		sg.Add(service.NewMetricsService(c.MetricsConf.ListenAddr, serviceContext.Registry))
	}

	logx.Infof("Starting dispatch of %d job(s)", len(p.Jobs))
	go sg.Start()

	// plan 执行完或收到退出信号
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-dispatchService.Done():
	case s := <-sig:
		logx.Infof("Received %v, cancelling dispatch", s)
	}

	logx.Info("Shutting down services...")
	sg.Stop()

	summary := dispatchService.Summary()
	logx.Infof("Dispatch finished: submitted=%d, failed=%d, skipped=%d",
		summary.Submitted, summary.Failed, summary.Skipped)
	if summary.Failed > 0 {
		return 1
	}
	return 0
}
