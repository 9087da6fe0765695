package config

// UserAgents is the rotation pool used by strategies with RotateUA set.
var UserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// ExcludedExtensions are link suffixes never worth fetching as subpages.
var ExcludedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".webp": true, ".ico": true, ".bmp": true, ".tiff": true,
	".zip": true, ".rar": true, ".tar": true, ".gz": true,
	".xls": true, ".xlsx": true, ".csv": true, ".txt": true, ".xml": true,
	".json": true, ".js": true, ".css": true,
	".mp4": true, ".mp3": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
}

// DocumentExtensions are collected separately as document links.
var DocumentExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
}

// ExcludedPathPatterns filter out asset and media directories.
var ExcludedPathPatterns = []string{
	"/wp-content/uploads/", "/assets/", "/static/", "/media/", "/images/",
	"/img/", "/fonts/", "/css/", "/js/",
}
