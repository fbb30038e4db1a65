package i18n

// chineseMessages contains all Simplified Chinese translations.
var chineseMessages = map[string]string{
	// Error messages
	"error.input":           "无法解析BV号，请检查链接格式",
	"error.no_preview":      "请先在侧边栏输入视频链接",
	"error.invalid_request": "请求格式错误",
	"error.resolution":      "重定向后未找到BV号: %s",
	"error.short_link":      "短链接解析失败: %s",
	"error.transport":       "网络请求失败，请稍后重试: %s",
	"error.upstream":        "B站接口返回错误: %s",
	"error.tool":            "FFmpeg转换失败，错误信息：\n%s",
	"error.busy":            "正在处理上一个请求，请稍候",
	"error.flood":           "请求过于频繁，请稍后再试",
	"error.internal":        "处理过程中发生错误: %s",

	// Page
	"ui.title":            "Bilimusic+",
	"ui.tagline":          "轻量化B站音频提取工具 · 仅供个人学习使用，尊重版权",
	"ui.input_header":     "输入",
	"ui.link_label":       "视频链接",
	"ui.link_placeholder": "支持标准链接 / b23.tv / 含标题的分享文本",
	"ui.resolve_button":   "解析",
	"ui.resolving":        "正在获取视频信息...",
	"ui.resolved":         "解析到BV号：%s",
	"ui.cover_header":     "封面预览",
	"ui.title_label":      "音乐标题",
	"ui.artist_label":     "作者",
	"ui.current_video":    "当前视频：%s  |  作者：%s",
	"ui.convert_button":   "开始下载并转换",
	"ui.converting":       "下载音频中（可能较慢）...",
	"ui.converted":        "转换成功！",
	"ui.download_button":  "点击下载 %s",
	"ui.empty_hint":       "👈 在侧边栏输入视频链接开始吧",

	// Command line
	"cli.resolved":   "解析到BV号：%s",
	"cli.video":      "当前视频：%s  |  作者：%s",
	"cli.converting": "合成%s并添加元数据...",
	"cli.saved":      "转换成功！已保存到 %s（%d 字节）",
}
