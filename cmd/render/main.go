package main

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/LouYuanbo1/renderbridge/internal/infra/logging"
	"github.com/LouYuanbo1/renderbridge/internal/service/render"
	"github.com/LouYuanbo1/renderbridge/param"
)

//使用go:embed嵌入appconfig.json文件
//下方注释重要,不能删除
//在实际使用时，注意与文件名的对应，Github上保存的appconfig_example.json文件为样例，以实际为准,比如我这里是appconfig.json
//When using it in practice, pay attention to the correspondence between the filename and the actual filename.
//The appconfig_example.json file saved on GitHub is just an example;
//use your own file, for example, mine is appconfig.json.

//go:embed appconfig/appconfig.json
var appConfig []byte

// 这个页面的引用列表由JS在加载后填充,静态抓取拿不到内容,适合验证渲染
var url = "https://quotes.toscrape.com/js/"

func main() {
	appcfg, err := config.ParseConfig(appConfig)
	if err != nil {
		log.Fatalf("解析配置失败: %v", err)
	}
	logger, err := logging.InitLogger(appcfg.Log.Env, appcfg.Log.Level)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	renderService, err := render.InitRenderService(appcfg, logger)
	if err != nil {
		log.Fatalf("初始化渲染服务失败: %v", err)
	}
	defer renderService.Close()

	request := &param.RenderRequest{
		Url:            url,
		TimeoutSeconds: 20,
		WaitUntil: &param.WaitCondition{
			State:    param.WaitReady,
			Selector: ".quote",
			Seconds:  10,
		},
		Screenshot: true,
		Scripts: []*param.Script{
			{Source: `() => document.querySelectorAll(".quote").length`, StoreAs: "quoteCount"},
		},
	}
	response, err := renderService.ProcessRequest(context.Background(), request)
	if err != nil {
		log.Fatalf("渲染失败: %v", err)
	}

	fmt.Printf("最终URL: %s\n", response.Url)
	fmt.Printf("状态码: %d\n", response.Status)
	fmt.Printf("标题: %s\n", response.Title)
	fmt.Printf("页面大小: %d 字节\n", len(response.Body))
	fmt.Printf("渲染耗时: %s\n", response.Elapsed)
	fmt.Printf("引用数量: %v\n", response.Meta["quoteCount"])

	if screenshot, ok := response.Meta["screenshot"].([]byte); ok {
		if err := os.WriteFile("screenshot.png", screenshot, 0o644); err != nil {
			log.Printf("保存截图失败: %v", err)
		} else {
			fmt.Println("截图已保存到 screenshot.png")
		}
	}
}
