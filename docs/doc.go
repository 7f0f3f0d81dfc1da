// Package docs provides generated OpenAPI documentation.
//
// Guideshelf API
//
//	@title			Guideshelf API
//	@version		1.0
//	@description	Incremental page segmentation of textbooks into topic and subtopic guidelines.
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -d ../ -g docs/doc.go -o ./swagger --parseDependency --parseInternal
