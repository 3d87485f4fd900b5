package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供缓存指纹、请求方法、缓存状态与 Range 头，供代理请求日志复用。
func RequestFields(fingerprint, method, cacheState, rangeHeader string) logrus.Fields {
	fields := logrus.Fields{
		"fingerprint": fingerprint,
		"method":      method,
		"cache_state": cacheState,
	}
	if rangeHeader != "" {
		fields["range"] = rangeHeader
	}
	return fields
}

// JobFields 输出下载任务的标识、目标与偏移量。
func JobFields(id, url string, offset int64, retries int) logrus.Fields {
	return logrus.Fields{
		"job_id":  id,
		"url":     url,
		"offset":  offset,
		"retries": retries,
	}
}
